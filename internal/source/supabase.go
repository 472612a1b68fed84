package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/model"
)

const selectWithLookups = "*,job_categories:categoryId(id,name,slug),countries:countryId(id,name,code),cities:cityId(id,name,countryId)"

type named struct {
	Name string `json:"name"`
}

type supabaseRow struct {
	jobRow
	CreatedAt string `json:"createdAt"`
	Category  *named `json:"job_categories"`
	Country   *named `json:"countries"`
	City      *named `json:"cities"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (r supabaseRow) flatten() (jobRow, error) {
	row := r.jobRow
	if r.Category != nil {
		row.CategoryName = r.Category.Name
	}
	if r.Country != nil {
		row.CountryName = r.Country.Name
	}
	if r.City != nil {
		row.CityName = r.City.Name
	}
	if r.CreatedAt != "" {
		t, err := parseTimestamp(r.CreatedAt)
		if err != nil {
			return row, err
		}
		row.CreatedAt = &t
	}
	return row, nil
}

// SupabaseSource queries the job table through the Supabase REST (PostgREST) API
type SupabaseSource struct {
	baseURL string
	apiKey  string
	opts    Options
	client  *http.Client
}

// NewSupabaseSource creates a Supabase backed record source
func NewSupabaseSource(baseURL, apiKey string, opts Options, client *http.Client) *SupabaseSource {
	if opts.Table == "" {
		opts.Table = "job_posts"
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &SupabaseSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		opts:    opts,
		client:  client,
	}
}

// FetchCandidates returns published jobs created since the given time, newest first
func (s *SupabaseSource) FetchCandidates(ctx context.Context, since time.Time) ([]model.Record, error) {
	q := url.Values{}
	q.Set("select", selectWithLookups)
	q.Set("isPublished", "eq.true")
	q.Set("createdAt", "gte."+since.UTC().Format(time.RFC3339Nano))
	q.Set("order", "createdAt.desc")

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}

	records := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := s.convert(r)
		if err != nil {
			logrus.WithField("record_id", r.ID).Errorf("Skipping unparseable job row: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// FetchByID returns a single job by id
func (s *SupabaseSource) FetchByID(ctx context.Context, id string) (*model.Record, error) {
	q := url.Values{}
	q.Set("select", selectWithLookups)
	q.Set("id", "eq."+id)
	q.Set("limit", "1")

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := s.convert(rows[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SupabaseSource) convert(r supabaseRow) (model.Record, error) {
	row, err := r.flatten()
	if err != nil {
		return model.Record{}, err
	}
	return s.opts.toRecord(row)
}

func (s *SupabaseSource) query(ctx context.Context, q url.Values) ([]supabaseRow, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", s.baseURL, s.opts.Table, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: supabase returned %d: %s", model.ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []supabaseRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", model.ErrSourceUnavailable, err)
	}
	return rows, nil
}
