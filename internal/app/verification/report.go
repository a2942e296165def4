package verification

import (
	"fmt"
	"io"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
)

// Report is the outcome of verifying one pact. Results keep the declaration order of the
// interactions.
type Report struct {
	Consumer    string                `json:"consumer"`
	Provider    string                `json:"provider"`
	Source      string                `json:"source,omitempty"`
	SpecVersion string                `json:"specVersion"`
	Results     []*VerificationResult `json:"results"`
	Passed      int                   `json:"passed"`
	Failed      int                   `json:"failed"`
	Pending     int                   `json:"pending"`
	Skipped     int                   `json:"skipped"`
	Success     bool                  `json:"success"`
}

// Aggregate counts the results of p. Failed results of pending interactions are counted as
// pending and do not fail the report.
func Aggregate(p *pact.Pact, results []*VerificationResult) *Report {
	report := &Report{
		Consumer:    p.Consumer.Name,
		Provider:    p.Provider.Name,
		Source:      p.Source,
		SpecVersion: p.Version.String(),
		Results:     results,
	}
	if report.Results == nil {
		report.Results = []*VerificationResult{}
	}
	for _, r := range results {
		switch {
		case r.Passed:
			report.Passed++
		case r.Pending:
			report.Pending++
		default:
			report.Failed++
		}
	}
	report.Success = report.Failed == 0
	return report
}

// Summary combines the reports of a verification run.
type Summary struct {
	Reports []*Report `json:"reports"`
	Passed  int       `json:"passed"`
	Failed  int       `json:"failed"`
	Pending int       `json:"pending"`
	Skipped int       `json:"skipped"`
	Success bool      `json:"success"`
}

func Merge(reports ...*Report) *Summary {
	s := &Summary{Reports: []*Report{}, Success: true}
	for _, r := range reports {
		if r == nil {
			continue
		}
		s.Reports = append(s.Reports, r)
		s.Passed += r.Passed
		s.Failed += r.Failed
		s.Pending += r.Pending
		s.Skipped += r.Skipped
		s.Success = s.Success && r.Success
	}
	return s
}

// WriteText writes a human readable account of the run.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	for _, r := range s.Reports {
		fmt.Fprintf(&b, "Verifying a pact between %s and %s", r.Consumer, r.Provider)
		if r.Source != "" {
			fmt.Fprintf(&b, " (%s)", r.Source)
		}
		b.WriteString("\n")
		for _, result := range r.Results {
			fmt.Fprintf(&b, "  %s", result.Description)
			if result.ProviderState != "" {
				fmt.Fprintf(&b, " given %s", result.ProviderState)
			}
			switch {
			case result.Passed:
				b.WriteString(" ... OK\n")
			case result.Pending:
				b.WriteString(" ... FAILED (pending)\n")
			default:
				b.WriteString(" ... FAILED\n")
			}
			for n, m := range result.Mismatches {
				fmt.Fprintf(&b, "      %d) %s\n", n+1, m)
			}
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d pending, %d skipped\n", s.Passed, s.Failed, s.Pending, s.Skipped)
	_, err := io.WriteString(w, b.String())
	return err
}
