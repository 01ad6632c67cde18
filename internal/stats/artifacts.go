package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"mioforge/internal/model"
)

const (
	runIndexFile        = "run_index.json"
	runFile             = "run.json"
	archiveFile         = "archive.json"
	bestTestsFile       = "best_tests.json"
	coverageHistoryFile = "coverage_history.json"
	coverageSeriesFile  = "coverage_series.csv"
)

// BestTest is the best archive member for one target, in the form test
// writers consume.
type BestTest struct {
	Target     string                 `json:"target"`
	Fitness    float64                `json:"fitness"`
	Covered    bool                   `json:"covered"`
	Individual model.IndividualRecord `json:"individual"`
	Results    []model.ActionResult   `json:"results,omitempty"`
}

type RunArtifacts struct {
	Run     model.RunRecord
	Archive model.ArchiveSnapshot
	History []model.CoverageSample
}

type RunIndexEntry struct {
	RunID        string          `json:"run_id"`
	Seed         int64           `json:"seed"`
	Status       model.RunStatus `json:"status"`
	Evaluations  int             `json:"evaluations"`
	Covered      int             `json:"covered"`
	Targets      int             `json:"targets"`
	CreatedAtUTC string          `json:"created_at_utc"`
}

// BestTests keeps the first entry per target. Archive snapshots list members
// best first.
func BestTests(snapshot model.ArchiveSnapshot) []BestTest {
	seen := make(map[string]struct{}, snapshot.Targets)
	var out []BestTest
	for _, e := range snapshot.Entries {
		if _, dup := seen[e.Target]; dup {
			continue
		}
		seen[e.Target] = struct{}{}
		out = append(out, BestTest{
			Target:     e.Target,
			Fitness:    e.Fitness,
			Covered:    e.Covered,
			Individual: e.Member.Individual,
			Results:    e.Member.Results,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, runFile), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, archiveFile), artifacts.Archive); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, bestTestsFile), BestTests(artifacts.Archive)); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, coverageHistoryFile), artifacts.History); err != nil {
		return "", err
	}
	if err := WriteCoverageSeries(runDir, artifacts.History); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir. Files missing from
// older runs are skipped.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{runFile, archiveFile, bestTestsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{coverageHistoryFile, coverageSeriesFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRun(baseDir, runID string) (model.RunRecord, bool, error) {
	var run model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, runFile), &run)
	return run, ok, err
}

func ReadArchive(baseDir, runID string) (model.ArchiveSnapshot, bool, error) {
	var snapshot model.ArchiveSnapshot
	ok, err := readJSON(filepath.Join(baseDir, runID, archiveFile), &snapshot)
	return snapshot, ok, err
}

func ReadBestTests(baseDir, runID string) ([]BestTest, bool, error) {
	var tests []BestTest
	ok, err := readJSON(filepath.Join(baseDir, runID, bestTestsFile), &tests)
	return tests, ok, err
}

// WriteCoverageSeries writes the coverage history as CSV for plotting.
func WriteCoverageSeries(runDir string, history []model.CoverageSample) error {
	path := filepath.Join(runDir, coverageSeriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"evaluations", "covered", "targets", "phase", "elapsed_seconds"}); err != nil {
		return err
	}
	for _, sample := range history {
		if err := writer.Write([]string{
			strconv.Itoa(sample.Evaluations),
			strconv.Itoa(sample.Covered),
			strconv.Itoa(sample.Targets),
			sample.Phase,
			strconv.FormatFloat(sample.Elapsed, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadCoverageSeries(baseDir, runID string) ([]model.CoverageSample, bool, error) {
	path := filepath.Join(baseDir, runID, coverageSeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.CoverageSample{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 5 {
		return nil, false, fmt.Errorf("coverage series header must have 5 columns")
	}

	series := make([]model.CoverageSample, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 5 {
			return nil, false, fmt.Errorf("coverage series row must have 5 columns")
		}
		var sample model.CoverageSample
		if sample.Evaluations, err = strconv.Atoi(record[0]); err != nil {
			return nil, false, err
		}
		if sample.Covered, err = strconv.Atoi(record[1]); err != nil {
			return nil, false, err
		}
		if sample.Targets, err = strconv.Atoi(record[2]); err != nil {
			return nil, false, err
		}
		sample.Phase = record[3]
		if sample.Elapsed, err = strconv.ParseFloat(record[4], 64); err != nil {
			return nil, false, err
		}
		series = append(series, sample)
	}
	return series, true, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
