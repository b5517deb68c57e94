package report

import (
	"fmt"
	"strings"

	"stratatest/domain/permtest"
	"stratatest/domain/survey"
)

// Markdown renders a completed run as a markdown report: the run manifest,
// then one section per stratum with its observed proportions and p-values.
// The decision column applies the caller-side rule p < alpha.
func Markdown(result *permtest.RunResult) string {
	var b strings.Builder
	m := result.Manifest

	fmt.Fprintf(&b, "# Permutation analysis: %s\n\n", m.DatasetName)
	fmt.Fprintf(&b, "- Run: `%s`\n", m.RunID)
	fmt.Fprintf(&b, "- Replicates: %d (sample size %d, seed %d)\n", m.NumReplicates, m.SampleSize, m.Seed)
	fmt.Fprintf(&b, "- Significance level: %g\n", result.Config.SignificanceLevel)
	fmt.Fprintf(&b, "- Strata: %d evaluated, %d skipped\n", m.StrataEvaluated, m.StrataSkipped)
	fmt.Fprintf(&b, "- Dataset hash: `%s`\n\n", m.DatasetHash)

	levels := orderedLevels(result)

	for _, stratum := range result.Strata {
		fmt.Fprintf(&b, "## Stratum %s\n\n", stratum.Stratum)

		if stratum.Skipped {
			fmt.Fprintf(&b, "Skipped: %s\n\n", stratum.SkipReason)
			continue
		}
		if stratum.SmallSample {
			b.WriteString("**Small sample**: at least one group is below the minimum stratum size; interpret with caution.\n\n")
		}

		writeProportions(&b, stratum, levels)
		writeResults(&b, result.Config.SignificanceLevel, stratum)
	}

	return b.String()
}

func writeProportions(b *strings.Builder, stratum permtest.StratumResult, levels []survey.OutcomeLevel) {
	b.WriteString("| group | n |")
	for _, level := range levels {
		fmt.Fprintf(b, " %s |", level)
	}
	b.WriteString("\n|---|---|")
	for range levels {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	for _, summary := range stratum.Observed {
		fmt.Fprintf(b, "| %s | %d |", summary.Group, summary.Count)
		for _, level := range levels {
			fmt.Fprintf(b, " %.3f |", summary.Proportions[level])
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeResults(b *strings.Builder, alpha float64, stratum permtest.StratumResult) {
	b.WriteString("| level | direction | observed diff | p-value | 95% CI | decision |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range stratum.Results {
		decision := "fail to reject"
		if permtest.Reject(r.PValue, alpha) {
			decision = "reject"
		}
		flag := ""
		if r.SmallSample {
			flag = " †"
		}
		fmt.Fprintf(b, "| %s | %s | %+.4f | %.4f | [%.4f, %.4f] | %s%s |\n",
			r.Level, r.Direction, r.Observed, r.PValue, r.CILow, r.CIHigh, decision, flag)
	}
	b.WriteString("\n")
}

// orderedLevels recovers the declared outcome order from the first evaluated
// stratum; results are always emitted in declaration order.
func orderedLevels(result *permtest.RunResult) []survey.OutcomeLevel {
	for _, stratum := range result.Strata {
		if stratum.Skipped {
			continue
		}
		levels := make([]survey.OutcomeLevel, 0, len(stratum.Results))
		for _, r := range stratum.Results {
			levels = append(levels, r.Level)
		}
		return levels
	}
	return nil
}
