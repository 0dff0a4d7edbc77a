package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DataDogExporter exports metrics to the DataDog series API
type DataDogExporter struct {
	apiKey   string
	site     string // e.g., "datadoghq.com", "datadoghq.eu"
	endpoint string
	tags     []string
	client   *http.Client
	now      func() time.Time
}

type DataDogOption func(*DataDogExporter)

func WithDataDogAPIKey(apiKey string) DataDogOption {
	return func(d *DataDogExporter) {
		d.apiKey = apiKey
	}
}

// WithDataDogSite sets the DataDog site (e.g., "datadoghq.com", "datadoghq.eu")
func WithDataDogSite(site string) DataDogOption {
	return func(d *DataDogExporter) {
		if site != "" {
			d.site = site
		}
	}
}

// WithDataDogEndpoint overrides the series URL derived from the site.
func WithDataDogEndpoint(url string) DataDogOption {
	return func(d *DataDogExporter) {
		d.endpoint = url
	}
}

// WithDataDogTags sets additional tags for all metrics
func WithDataDogTags(tags []string) DataDogOption {
	return func(d *DataDogExporter) {
		d.tags = tags
	}
}

func NewDataDogExporter(opts ...DataDogOption) *DataDogExporter {
	d := &DataDogExporter{
		site:   "datadoghq.com",
		client: &http.Client{Timeout: 10 * time.Second},
		tags:   make([]string, 0),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.apiKey == "" {
		d.apiKey = os.Getenv("DD_API_KEY")
	}
	if d.endpoint == "" {
		d.endpoint = fmt.Sprintf("https://api.%s/api/v1/series", d.site)
	}

	return d
}

type datadogMetric struct {
	Metric string   `json:"metric"`
	Type   string   `json:"type"`
	Points [][]any  `json:"points"`
	Tags   []string `json:"tags,omitempty"`
}

type datadogPayload struct {
	Series []datadogMetric `json:"series"`
}

// Export sends one duration point per case, the failure count of the
// snapshot and the running latency quantiles.
func (d *DataDogExporter) Export(s *Snapshot) error {
	if d.apiKey == "" {
		return fmt.Errorf("DataDog API key not configured")
	}

	now := float64(d.now().Unix())
	series := make([]datadogMetric, 0, len(s.Cases)+4)

	var failures int
	for _, c := range s.Cases {
		tags := append([]string{
			"suite:" + c.Suite,
			"case:" + c.Case,
			"method:" + c.Method,
			"state:" + c.State,
			fmt.Sprintf("status:%d", c.StatusCode),
		}, d.tags...)
		series = append(series, datadogMetric{
			Metric: DurationMetric,
			Type:   "gauge",
			Points: [][]any{{now, c.DurationSeconds}},
			Tags:   tags,
		})
		if c.Failed {
			failures++
		}
	}

	series = append(series, datadogMetric{
		Metric: FailuresMetric,
		Type:   "count",
		Points: [][]any{{now, float64(failures)}},
		Tags:   d.tags,
	})

	if agg := s.Aggregate; agg != nil && agg.Cases > 0 {
		for _, q := range []struct {
			name  string
			value float64
		}{
			{"p50", agg.P50Seconds},
			{"p95", agg.P95Seconds},
			{"p99", agg.P99Seconds},
		} {
			series = append(series, datadogMetric{
				Metric: DurationMetric + "." + q.name,
				Type:   "gauge",
				Points: [][]any{{now, q.value}},
				Tags:   d.tags,
			})
		}
	}

	return d.sendMetrics(series)
}

func (d *DataDogExporter) sendMetrics(series []datadogMetric) error {
	jsonData, err := json.Marshal(datadogPayload{Series: series})
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("DataDog API returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (d *DataDogExporter) Close() error {
	return nil
}
