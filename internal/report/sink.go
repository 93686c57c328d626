package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/observability"
)

// idLayout stamps report IDs and file names.
const idLayout = "20060102_150405"

// Submission is one reported threat on its way to the sinks.
type Submission struct {
	ReportID   string
	ThreatType string
	Submitted  time.Time
	Result     Result
}

// Forwarder delivers a submission to an external system.
type Forwarder interface {
	Name() string
	Submit(ctx context.Context, sub Submission) error
}

// FileSink writes each bundle as an indented JSON file.
type FileSink struct {
	dir string
}

// NewFileSink creates a FileSink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// maxSameSecond bounds the suffixes tried for reports filed in one second.
const maxSameSecond = 1000

// Write saves sub and returns the file name, relative to the sink directory.
// Existing reports are never overwritten: a report filed in the same second
// as an earlier one gets a numeric suffix.
func (s *FileSink) Write(sub Submission) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(sub.Result, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	stamp := sub.Submitted.Format(idLayout)
	for i := 1; i <= maxSameSecond; i++ {
		stem := stamp
		if i > 1 {
			stem = stamp + "_" + strconv.Itoa(i)
		}
		name := "report_" + stem + ".json"
		err := writeExclusive(filepath.Join(s.dir, name), data)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to write report: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("failed to write report: %d reports already filed at %s", maxSameSecond, stamp)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}

// reportID derives the report ID from the saved file name, so both stay
// unique together.
func reportID(name string) string {
	return "STIX-" + strings.TrimSuffix(strings.TrimPrefix(name, "report_"), ".json")
}

// Notification is the outcome of a CERT notification.
type Notification struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ReportID  string `json:"report_id"`
	FileSaved string `json:"file_saved"`
	STIXData  Result `json:"stix_data"`
}

// Notifier builds a report, saves it to disk and forwards it.
type Notifier struct {
	generator  *Generator
	file       *FileSink
	forwarders []Forwarder
	now        func() time.Time

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewNotifier creates a Notifier. Forwarder failures are logged, not
// returned: the file on disk is the report of record.
func NewNotifier(gen *Generator, file *FileSink, forwarders []Forwarder, logger *zap.Logger, metrics *observability.Metrics) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		generator:  gen,
		file:       file,
		forwarders: forwarders,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "report")),
		metrics:    metrics,
	}
}

// Notify builds the bundle for content and submits it.
func (n *Notifier) Notify(ctx context.Context, threatType, content string) (Notification, error) {
	result := n.generator.BuildReport(threatType, content)
	if result.OK() {
		n.metrics.ObserveReport("bundle")
	} else {
		n.metrics.ObserveReport("error")
		n.logger.Warn("report generation failed",
			zap.String("threat_type", threatType),
			zap.String("error", result.Err))
	}

	submitted := n.now()
	sub := Submission{
		ThreatType: threatType,
		Submitted:  submitted,
		Result:     result,
	}

	name, err := n.file.Write(sub)
	n.metrics.ObserveSubmission("file", err)
	if err != nil {
		return Notification{}, err
	}
	sub.ReportID = reportID(name)
	n.logger.Info("report saved",
		zap.String("report_id", sub.ReportID),
		zap.String("file", name))

	for _, f := range n.forwarders {
		err := f.Submit(ctx, sub)
		n.metrics.ObserveSubmission(f.Name(), err)
		if err != nil {
			n.logger.Warn("report forward failed",
				zap.String("sink", f.Name()),
				zap.String("report_id", sub.ReportID),
				zap.Error(err))
		}
	}

	return Notification{
		Status:    "reported",
		Message:   "CERT notified successfully. STIX 2.1 Object generated.",
		ReportID:  sub.ReportID,
		FileSaved: name,
		STIXData:  result,
	}, nil
}
