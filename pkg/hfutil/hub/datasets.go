package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DatasetRow is one row returned by the datasets-server rows API.
type DatasetRow struct {
	RowIdx int                    `json:"row_idx"`
	Row    map[string]interface{} `json:"row"`
}

type datasetRowsPage struct {
	Rows         []DatasetRow `json:"rows"`
	NumRowsTotal int          `json:"num_rows_total"`
}

// DatasetRows pages through every row of a dataset split served by the
// datasets-server at baseURL. pageSize <= 0 uses 100.
func (c *HubClient) DatasetRows(ctx context.Context, baseURL, dataset, config, split string, pageSize int) ([]map[string]interface{}, error) {
	if err := validateRepoID(dataset); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	config = orDefault(config, "default")
	base := strings.TrimRight(baseURL, "/") + "/rows"

	var rows []map[string]interface{}
	for offset := 0; ; {
		q := url.Values{}
		q.Set("dataset", dataset)
		q.Set("config", config)
		q.Set("split", split)
		q.Set("offset", strconv.Itoa(offset))
		q.Set("length", strconv.Itoa(pageSize))
		pageURL := base + "?" + q.Encode()

		resp, err := c.do(ctx, c.config.RequestTimeout, "dataset_rows",
			func(ctx context.Context) (*http.Request, error) {
				return http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
			},
			func(resp *http.Response) error {
				return handleHTTPError(resp, dataset, RepoTypeDataset, "", "")
			})
		if err != nil {
			return nil, err
		}

		var page datasetRowsPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode rows response: %w", err)
		}
		for _, r := range page.Rows {
			rows = append(rows, r.Row)
		}

		offset += len(page.Rows)
		if len(page.Rows) == 0 || offset >= page.NumRowsTotal {
			break
		}
	}

	c.logger.WithField("dataset", dataset).
		WithField("split", split).
		WithField("rows", len(rows)).
		Debug("Dataset rows fetched")
	return rows, nil
}
