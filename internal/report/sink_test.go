package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jaidealistic/CEREBRO/internal/observability"
)

type recordingForwarder struct {
	err  error
	subs []Submission
}

func (f *recordingForwarder) Name() string { return "recorder" }

func (f *recordingForwarder) Submit(_ context.Context, sub Submission) error {
	f.subs = append(f.subs, sub)
	return f.err
}

func TestFileSink_WritesIndentedBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	sink := NewFileSink(dir)

	sub := Submission{
		ReportID:  "STIX-20260301_123456",
		Submitted: fixedTime,
		Result:    testGenerator().BuildReport("Malicious URL", "http://evil.example"),
	}
	name, err := sink.Write(sub)
	require.NoError(t, err)
	assert.Equal(t, "report_20260301_123456.json", name)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"type\": \"bundle\"")

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out["objects"], 2)
}

func TestFileSink_UnwritableDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewFileSink(file).Write(Submission{Submitted: fixedTime})
	assert.Error(t, err)
}

func newTestNotifier(t *testing.T, forwarders ...Forwarder) (*Notifier, string, *observability.Metrics) {
	t.Helper()
	dir := t.TempDir()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	n := NewNotifier(testGenerator(), NewFileSink(dir), forwarders, nil, metrics)
	n.now = func() time.Time { return fixedTime }
	return n, dir, metrics
}

func TestNotifier_Notify(t *testing.T) {
	fwd := &recordingForwarder{}
	n, dir, metrics := newTestNotifier(t, fwd)

	res, err := n.Notify(context.Background(), "Malicious URL", "http://evil.example")
	require.NoError(t, err)

	assert.Equal(t, "reported", res.Status)
	assert.Equal(t, "CERT notified successfully. STIX 2.1 Object generated.", res.Message)
	assert.Equal(t, "STIX-20260301_123456", res.ReportID)
	assert.Equal(t, "report_20260301_123456.json", res.FileSaved)
	assert.True(t, res.STIXData.OK())
	assert.FileExists(t, filepath.Join(dir, res.FileSaved))

	require.Len(t, fwd.subs, 1)
	assert.Equal(t, res.ReportID, fwd.subs[0].ReportID)
	assert.Equal(t, "Malicious URL", fwd.subs[0].ThreatType)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Reports.WithLabelValues("bundle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SinkSubmissions.WithLabelValues("file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SinkSubmissions.WithLabelValues("recorder", "ok")))

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "bundle", out["stix_data"].(map[string]any)["type"])
}

func TestNotifier_ForwarderFailureIsNotFatal(t *testing.T) {
	fwd := &recordingForwarder{err: errors.New("splunk down")}
	n, _, metrics := newTestNotifier(t, fwd)

	res, err := n.Notify(context.Background(), "Phishing Email", "click here")
	require.NoError(t, err)
	assert.Equal(t, "reported", res.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SinkSubmissions.WithLabelValues("recorder", "error")))
}

func TestNotifier_GenerationErrorStillSaved(t *testing.T) {
	n, dir, metrics := newTestNotifier(t)

	res, err := n.Notify(context.Background(), "Phishing Email", "\xff")
	require.NoError(t, err)
	assert.False(t, res.STIXData.OK())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Reports.WithLabelValues("error")))

	data, err := os.ReadFile(filepath.Join(dir, res.FileSaved))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error"`)
}

func TestNotifier_FileFailureIsReturned(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	fwd := &recordingForwarder{}
	n := NewNotifier(testGenerator(), NewFileSink(file), []Forwarder{fwd}, nil, nil)

	_, err := n.Notify(context.Background(), "Malicious URL", "http://x.example")
	assert.Error(t, err)
	assert.Empty(t, fwd.subs, "nothing forwarded without a saved report")
}

func TestNotifier_SameSecondReportsKeepSeparateFiles(t *testing.T) {
	fwd := &recordingForwarder{}
	n, dir, _ := newTestNotifier(t, fwd)

	first, err := n.Notify(context.Background(), "Malicious URL", "http://first.example")
	require.NoError(t, err)
	second, err := n.Notify(context.Background(), "Malicious URL", "http://second.example")
	require.NoError(t, err)

	assert.Equal(t, "STIX-20260301_123456", first.ReportID)
	assert.Equal(t, "report_20260301_123456.json", first.FileSaved)
	assert.Equal(t, "STIX-20260301_123456_2", second.ReportID)
	assert.Equal(t, "report_20260301_123456_2.json", second.FileSaved)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, first.FileSaved))
	require.NoError(t, err)
	assert.Contains(t, string(data), "first.example")
	data, err = os.ReadFile(filepath.Join(dir, second.FileSaved))
	require.NoError(t, err)
	assert.Contains(t, string(data), "second.example")

	require.Len(t, fwd.subs, 2)
	assert.Equal(t, second.ReportID, fwd.subs[1].ReportID)
}

func TestFileSink_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "report_20260301_123456.json")
	require.NoError(t, os.WriteFile(existing, []byte("kept"), 0o644))

	name, err := NewFileSink(dir).Write(Submission{Submitted: fixedTime})
	require.NoError(t, err)
	assert.Equal(t, "report_20260301_123456_2.json", name)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
}
