package pagination

type Page struct {
	Offset int // where to start from
	Limit  int // number of items in a page
}

func FirstPage() Page {
	return Page{
		Offset: 0,
		Limit:  30,
	}
}

func WithLimit(limit int) Page {
	return Page{
		Offset: 0,
		Limit:  limit,
	}
}

func (p Page) Previous() Page {
	if p.Offset-p.Limit < 0 {
		return FirstPage()
	}
	return Page{
		Offset: p.Offset - p.Limit,
		Limit:  p.Limit,
	}
}

func (p Page) Next() Page {
	return Page{
		Offset: p.Offset + p.Limit,
		Limit:  p.Limit,
	}
}

// Number is the 1-based page number for APIs that paginate by
// page number rather than offset.
func (p Page) Number() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

func TotalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}
	return pages
}

// IterateAll fetches successive pages until a short page is
// returned, handing each batch to handle.
func IterateAll[T any](
	fetch func(page Page) ([]T, error),
	handle func(items []T) error,
) error {
	return IterateAllFrom(FirstPage(), fetch, handle)
}

// IterateAllFrom is IterateAll starting from an explicit page,
// for callers that need a page size other than the default.
func IterateAllFrom[T any](
	page Page,
	fetch func(page Page) ([]T, error),
	handle func(items []T) error,
) error {
	for {
		items, err := fetch(page)
		if err != nil {
			return err
		}

		err = handle(items)
		if err != nil {
			return err
		}
		if len(items) < page.Limit {
			break
		}
		page = page.Next()
	}
	return nil
}
