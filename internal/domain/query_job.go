package domain

// ExecuteRequest describes one query execution.
type ExecuteRequest struct {
	SQL           string
	Location      string
	Labels        map[string]string
	UseQueryCache bool
}

// QueryJob is a handle to an executed query whose results can be paged.
type QueryJob struct {
	ID       string
	Location string
	Pages    ResultPager
}

// ResultPage is one page of query results.
type ResultPage struct {
	Columns []string
	Rows    [][]interface{}
}

// ResultPager iterates over the pages of a finished query.
// Next returns (nil, nil) after the last page.
type ResultPager interface {
	Preview(maxRows int) (*ResultPage, error)
	Next(pageSize int) (*ResultPage, error)
}
