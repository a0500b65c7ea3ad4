package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BuildOutcome is the typed enumeration of final run result states.
type BuildOutcome string

const (
	OutcomeSuccess  BuildOutcome = "success"
	OutcomeWarning  BuildOutcome = "warning"
	OutcomePartial  BuildOutcome = "partial" // published, but some artifacts failed
	OutcomeFailed   BuildOutcome = "failed"
	OutcomeCanceled BuildOutcome = "canceled"
)

// ReportIssueCode enumerates machine-parseable issue identifiers.
// These codes are a stable contract and are only ever appended.
type ReportIssueCode string

const (
	IssueParseFailure   ReportIssueCode = "PARSE_FAILURE"
	IssueRenderFailure  ReportIssueCode = "RENDER_FAILURE"
	IssueReadFailure    ReportIssueCode = "READ_FAILURE"
	IssueListingFailure ReportIssueCode = "LISTING_FAILURE"
	IssueCopyFallback   ReportIssueCode = "COPY_FALLBACK"
	IssueNotifyFailure  ReportIssueCode = "NOTIFY_FAILURE"
	IssueCanceled       ReportIssueCode = "BUILD_CANCELED"
)

// IssueSeverity represents normalized severity levels.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
	SeverityInfo    IssueSeverity = "info"
)

// ReportIssue is one problem encountered during a run.
type ReportIssue struct {
	Code     ReportIssueCode `json:"code"`
	Stage    StageName       `json:"stage"`
	Severity IssueSeverity   `json:"severity"`
	Message  string          `json:"message"`
	Route    string          `json:"route,omitempty"`
	Path     string          `json:"path,omitempty"`
}

// StageCount aggregates counts of outcomes for a stage.
type StageCount struct {
	Success  int
	Warning  int
	Fatal    int
	Canceled int
}

// BuildReport captures what a generation run did.
type BuildReport struct {
	mu sync.Mutex

	SchemaVersion    int
	RunID            string
	Start            time.Time
	End              time.Time
	Errors           []error // fatal errors causing the run to abort
	Warnings         []error // non-fatal stage issues
	StageDurations   map[string]time.Duration
	StageErrorKinds  map[StageName]StageErrorKind
	StageCounts      map[StageName]StageCount
	Entries          int
	Rendered         int
	Restored         int
	CopyFallbacks    int
	Failed           int
	ListingPages     int
	Pruned           int
	AssetsChanged    bool
	TemplatesChanged bool
	ForceRender      bool
	ForceReasons     []string
	Published        bool
	Outcome          string
	OutcomeT         BuildOutcome
	Issues           []ReportIssue
}

func newBuildReport(runID string) *BuildReport {
	return &BuildReport{
		SchemaVersion:   1,
		RunID:           runID,
		Start:           time.Now(),
		StageDurations:  make(map[string]time.Duration),
		StageErrorKinds: make(map[StageName]StageErrorKind),
		StageCounts:     make(map[StageName]StageCount),
	}
}

// AddIssue appends an issue. It is safe for concurrent use.
func (r *BuildReport) AddIssue(issue ReportIssue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Issues = append(r.Issues, issue)
}

// IssuesSnapshot returns a copy of the recorded issues.
func (r *BuildReport) IssuesSnapshot() []ReportIssue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReportIssue(nil), r.Issues...)
}

func (r *BuildReport) finish() {
	r.End = time.Now()
	r.deriveOutcome()
}

// Duration is the wall time of the run.
func (r *BuildReport) Duration() time.Duration { return r.End.Sub(r.Start) }

// Summary returns a human-readable single-line summary.
func (r *BuildReport) Summary() string {
	return fmt.Sprintf("entries=%d rendered=%d restored=%d failed=%d listings=%d pruned=%d duration=%s errors=%d warnings=%d outcome=%s",
		r.Entries, r.Rendered, r.Restored, r.Failed, r.ListingPages, r.Pruned,
		r.Duration().Truncate(time.Millisecond), len(r.Errors), len(r.Warnings), r.Outcome)
}

// deriveOutcome sets the Outcome field based on recorded errors, failures
// and warnings.
func (r *BuildReport) deriveOutcome() {
	switch {
	case len(r.Errors) > 0:
		for _, e := range r.Errors {
			if se, ok := e.(*StageError); ok && se.Kind == StageErrorCanceled {
				r.setOutcome(OutcomeCanceled)
				return
			}
		}
		r.setOutcome(OutcomeFailed)
	case r.Failed > 0:
		r.setOutcome(OutcomePartial)
	case len(r.Warnings) > 0:
		r.setOutcome(OutcomeWarning)
	default:
		r.setOutcome(OutcomeSuccess)
	}
}

func (r *BuildReport) setOutcome(o BuildOutcome) {
	r.OutcomeT = o
	r.Outcome = string(o)
}

// Persist writes build-report.json and build-report.txt into dir, each via
// a temporary file and a rename.
func (r *BuildReport) Persist(dir string) error {
	if r.End.IsZero() {
		r.finish()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ensure root for report: %w", err)
	}
	jb, err := json.MarshalIndent(r.sanitizedCopy(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report json: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "build-report.json"), jb); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "build-report.txt"), []byte(r.Summary()+"\n"))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// sanitizedCopy converts error fields to strings for JSON output.
func (r *BuildReport) sanitizedCopy() *BuildReportSerializable {
	stageCounts := make(map[string]StageCount, len(r.StageCounts))
	for k, v := range r.StageCounts {
		stageCounts[string(k)] = v
	}
	sek := make(map[string]string, len(r.StageErrorKinds))
	for k, v := range r.StageErrorKinds {
		sek[string(k)] = string(v)
	}
	issues := r.IssuesSnapshot()
	if issues == nil {
		issues = []ReportIssue{}
	}
	s := &BuildReportSerializable{
		SchemaVersion:    r.SchemaVersion,
		RunID:            r.RunID,
		Start:            r.Start,
		End:              r.End,
		Errors:           make([]string, len(r.Errors)),
		Warnings:         make([]string, len(r.Warnings)),
		StageDurations:   r.StageDurations,
		StageErrorKinds:  sek,
		StageCounts:      stageCounts,
		Entries:          r.Entries,
		Rendered:         r.Rendered,
		Restored:         r.Restored,
		CopyFallbacks:    r.CopyFallbacks,
		Failed:           r.Failed,
		ListingPages:     r.ListingPages,
		Pruned:           r.Pruned,
		AssetsChanged:    r.AssetsChanged,
		TemplatesChanged: r.TemplatesChanged,
		ForceRender:      r.ForceRender,
		ForceReasons:     r.ForceReasons,
		Published:        r.Published,
		Outcome:          r.Outcome,
		Issues:           issues,
	}
	for i, e := range r.Errors {
		s.Errors[i] = e.Error()
	}
	for i, w := range r.Warnings {
		s.Warnings[i] = w.Error()
	}
	return s
}

// BuildReportSerializable mirrors BuildReport with string errors for JSON output.
type BuildReportSerializable struct {
	SchemaVersion    int                      `json:"schema_version"`
	RunID            string                   `json:"run_id"`
	Start            time.Time                `json:"start"`
	End              time.Time                `json:"end"`
	Errors           []string                 `json:"errors"`
	Warnings         []string                 `json:"warnings"`
	StageDurations   map[string]time.Duration `json:"stage_durations"`
	StageErrorKinds  map[string]string        `json:"stage_error_kinds"`
	StageCounts      map[string]StageCount    `json:"stage_counts"`
	Entries          int                      `json:"entries"`
	Rendered         int                      `json:"rendered"`
	Restored         int                      `json:"restored"`
	CopyFallbacks    int                      `json:"copy_fallbacks"`
	Failed           int                      `json:"failed"`
	ListingPages     int                      `json:"listing_pages"`
	Pruned           int                      `json:"pruned"`
	AssetsChanged    bool                     `json:"assets_changed"`
	TemplatesChanged bool                     `json:"templates_changed"`
	ForceRender      bool                     `json:"force_render"`
	ForceReasons     []string                 `json:"force_reasons,omitempty"`
	Published        bool                     `json:"published"`
	Outcome          string                   `json:"outcome"`
	Issues           []ReportIssue            `json:"issues"`
}
