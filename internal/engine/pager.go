package engine

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"bq-guard/internal/domain"
)

// rowSource is the subset of *bigquery.RowIterator the pager reads from.
type rowSource interface {
	Next(dst interface{}) error
}

// rowPager pages through the results of a finished job. Preview reads
// from its own iterator so it does not consume rows that Next returns.
type rowPager struct {
	ctx    context.Context
	job    *bigquery.Job
	reader *pageReader
}

var _ domain.ResultPager = (*rowPager)(nil)

func (p *rowPager) Preview(maxRows int) (*domain.ResultPage, error) {
	it, err := p.job.Read(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	it.PageInfo().MaxSize = maxRows
	page, _, err := readRows(it, maxRows, func() bigquery.Schema { return it.Schema })
	return page, err
}

func (p *rowPager) Next(pageSize int) (*domain.ResultPage, error) {
	if p.reader == nil {
		it, err := p.job.Read(p.ctx)
		if err != nil {
			return nil, fmt.Errorf("read results: %w", err)
		}
		it.PageInfo().MaxSize = pageSize
		p.reader = &pageReader{src: it, schema: func() bigquery.Schema { return it.Schema }}
	}
	return p.reader.next(pageSize)
}

// pageReader splits a row source into pages. The first page is returned
// even when empty so an empty result still carries its columns.
type pageReader struct {
	src     rowSource
	schema  func() bigquery.Schema
	started bool
	done    bool
}

func (r *pageReader) next(n int) (*domain.ResultPage, error) {
	if r.done {
		return nil, nil
	}
	page, exhausted, err := readRows(r.src, n, r.schema)
	if err != nil {
		return nil, err
	}
	first := !r.started
	r.started = true
	if exhausted {
		r.done = true
		if len(page.Rows) == 0 && !first {
			return nil, nil
		}
	}
	return page, nil
}

// readRows reads up to n rows. exhausted reports that the source hit
// iterator.Done. The schema is only known after the first Next call.
func readRows(src rowSource, n int, schema func() bigquery.Schema) (*domain.ResultPage, bool, error) {
	page := &domain.ResultPage{}
	exhausted := false
	for len(page.Rows) < n {
		var row []bigquery.Value
		err := src.Next(&row)
		if errors.Is(err, iterator.Done) {
			exhausted = true
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("read row: %w", err)
		}
		out := make([]interface{}, len(row))
		for i, v := range row {
			out[i] = v
		}
		page.Rows = append(page.Rows, out)
	}
	page.Columns = columnNames(schema())
	return page, exhausted, nil
}

func columnNames(schema bigquery.Schema) []string {
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.Name
	}
	return names
}
