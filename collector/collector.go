package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Collector is the public contract any metric source must satisfy.
type Collector interface {
	// Collect fetches metrics from its source and returns a map of
	// metric name -> value. Metrics that cannot be parsed are left out;
	// an error means nothing usable was fetched.
	Collect(ctx context.Context) (map[string]float64, error)
}

// TimedCollector is a Collector whose source reports when the values were
// captured.
type TimedCollector interface {
	Collector
	CollectAt(ctx context.Context) (map[string]float64, time.Time, error)
}

// Func adapts a plain function to Collector.
type Func func(ctx context.Context) (map[string]float64, error)

func (f Func) Collect(ctx context.Context) (map[string]float64, error) {
	return f(ctx)
}

// Multi runs several collectors concurrently and merges their results.
// A failing collector is logged and skipped; Collect fails only when every
// collector failed. On duplicate names the later collector in the list wins.
type Multi struct {
	Collectors []Collector
	Workers    int
	Log        *zap.Logger
}

func (m *Multi) Collect(ctx context.Context) (map[string]float64, error) {
	results := make([]map[string]float64, len(m.Collectors))
	errs := make([]error, len(m.Collectors))

	g, gctx := errgroup.WithContext(ctx)
	if m.Workers > 0 {
		g.SetLimit(m.Workers)
	}
	for i, c := range m.Collectors {
		g.Go(func() error {
			// errors are kept per collector so one failure does not
			// cancel the others
			results[i], errs[i] = c.Collect(gctx)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]float64)
	var failed []error
	for i, res := range results {
		if errs[i] != nil {
			if m.Log != nil {
				m.Log.Warn("collector failed", zap.Int("index", i), zap.Error(errs[i]))
			}
			failed = append(failed, errs[i])
			continue
		}
		for name, v := range res {
			merged[name] = v
		}
	}
	if len(m.Collectors) > 0 && len(failed) == len(m.Collectors) {
		return nil, errors.Join(failed...)
	}
	return merged, nil
}

// Close closes every child collector that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, c := range m.Collectors {
		if closer, ok := c.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// PrometheusCollector - evaluates instant queries against Prometheus.

// PrometheusCollector implements TimedCollector.
// It issues one `/api/v1/query` per configured query. A query returning a
// single series is reported under its name; several series are reported as
// name.<label values>. The capture time is the newest sample timestamp.
type PrometheusCollector struct {
	HTTPOptions
	Queries map[string]string // metric name -> PromQL expression
}

// prometheusAPIResponse - minimal subset of the JSON returned by /api/v1/query.
type prometheusAPIResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string             `json:"resultType"` // "vector" or "matrix"
		Result     []prometheusSeries `json:"result"`
	} `json:"data"`
}

type prometheusSeries struct {
	Metric map[string]string `json:"metric"`
	Value  []interface{}     `json:"value"`  // vector: [ <timestamp>, "<value>" ]
	Values [][]interface{}   `json:"values"` // matrix: list of the above
}

// NewPrometheusCollector returns a ready-to-use collector.
func NewPrometheusCollector(baseURL string, queries map[string]string, log *zap.Logger) *PrometheusCollector {
	return &PrometheusCollector{
		HTTPOptions: HTTPOptions{URL: baseURL, Log: log},
		Queries:     queries,
	}
}

func (p *PrometheusCollector) Collect(ctx context.Context) (map[string]float64, error) {
	values, _, err := p.CollectAt(ctx)
	return values, err
}

func (p *PrometheusCollector) CollectAt(ctx context.Context) (map[string]float64, time.Time, error) {
	names := make([]string, 0, len(p.Queries))
	for name := range p.Queries {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics := make(map[string]float64)
	var newest time.Time
	var errs []error
	for _, name := range names {
		at, err := p.query(ctx, name, p.Queries[name], metrics)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", name, err))
			continue
		}
		if at.After(newest) {
			newest = at
		}
	}
	if len(metrics) == 0 {
		if len(errs) == 0 {
			errs = append(errs, errors.New("prometheus queries returned no results"))
		}
		return nil, time.Time{}, errors.Join(errs...)
	}
	for _, err := range errs {
		p.logger().Debug("skipping prometheus query", zap.Error(err))
	}
	return metrics, newest, nil
}

func (p *PrometheusCollector) query(ctx context.Context, name, promql string, into map[string]float64) (time.Time, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid prometheus base url: %s", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/query"
	q := u.Query()
	q.Set("query", promql)
	u.RawQuery = q.Encode()

	body, err := p.get(ctx, u.String())
	if err != nil {
		return time.Time{}, err
	}
	defer body.Close()

	var apiResp prometheusAPIResponse
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode prometheus response: %w", err)
	}
	if apiResp.Status != "success" {
		return time.Time{}, fmt.Errorf("prometheus query not successful: %s %s", apiResp.Status, apiResp.Error)
	}
	if len(apiResp.Data.Result) == 0 {
		return time.Time{}, fmt.Errorf("prometheus query returned no results")
	}

	var newest time.Time
	for _, series := range apiResp.Data.Result {
		sample := series.Value
		if len(sample) == 0 && len(series.Values) > 0 {
			sample = series.Values[len(series.Values)-1]
		}
		ts, val, err := parseSample(sample)
		if err != nil {
			p.logger().Debug("skipping prometheus sample", zap.String("query", name), zap.Error(err))
			continue
		}
		key := name
		if len(apiResp.Data.Result) > 1 {
			key = name + "." + labelSuffix(series.Metric)
		}
		into[key] = val
		if ts.After(newest) {
			newest = ts
		}
	}
	return newest, nil
}

// parseSample decodes [ <unix seconds>, "<value>" ].
func parseSample(sample []interface{}) (time.Time, float64, error) {
	if len(sample) != 2 {
		return time.Time{}, 0, fmt.Errorf("unexpected sample shape %v", sample)
	}
	secs, ok := sample[0].(float64)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("unexpected timestamp type in prometheus response")
	}
	valStr, ok := sample[1].(string)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("unexpected value type in prometheus response")
	}
	val, err := parseFloat(valStr)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("cannot parse prometheus value %q: %w", valStr, err)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), val, nil
}

func labelSuffix(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if k != "__name__" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, labels[k])
	}
	return strings.Join(parts, ".")
}

// JSONCollector - fetches a JSON statistics document.

// JSONCollector calls a REST endpoint that returns JSON, the shape exposed
// by CouchDB `_stats`, Riak `/stats` or Jenkins metrics. Nested objects are
// flattened with "." separators:
//
//	{"httpd": {"requests": 12}, "uptime": 300}  ->  httpd.requests=12, uptime=300
//
// Numeric strings are parsed and booleans map to 0/1. Arrays and other
// values are skipped.
type JSONCollector struct {
	HTTPOptions
}

// NewJSONCollector creates a collector instance.
func NewJSONCollector(baseURL string, log *zap.Logger) *JSONCollector {
	return &JSONCollector{HTTPOptions: HTTPOptions{URL: baseURL, Log: log}}
}

// Collect fetches the JSON payload and extracts numeric fields.
func (j *JSONCollector) Collect(ctx context.Context) (map[string]float64, error) {
	body, err := j.get(ctx, j.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON stats: %w", err)
	}

	metrics := make(map[string]float64)
	j.flatten("", raw, metrics)
	if len(metrics) == 0 {
		return nil, fmt.Errorf("no numeric metrics found in JSON response")
	}
	return metrics, nil
}

func (j *JSONCollector) flatten(prefix string, raw map[string]interface{}, into map[string]float64) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case json.Number:
			if f, err := val.Float64(); err == nil {
				into[key] = f
			}
		case string:
			if f, err := parseFloat(val); err == nil {
				into[key] = f
			}
		case bool:
			if val {
				into[key] = 1
			} else {
				into[key] = 0
			}
		case map[string]interface{}:
			j.flatten(key, val, into)
		default:
			j.logger().Debug("skipping non-numeric metric", zap.String("key", key))
		}
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
