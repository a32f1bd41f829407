// Package runlog owns the per-run output directory and its append-only log file.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// OutputDir is runs/drop-<keep>.
func OutputDir(runsDir string, keep float64) string {
	return filepath.Join(runsDir, "drop-"+FormatFloat(keep))
}

// PrepareOutputDir deletes any previous output for this keep probability and
// recreates the directory empty.
func PrepareOutputDir(runsDir string, keep float64) (string, error) {
	dir := OutputDir(runsDir, keep)
	if err := os.RemoveAll(dir); err != nil {
		return "", errors.Wrapf(err, "clear output dir %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create output dir %s", dir)
	}
	return dir, nil
}

// Params are the hyperparameters recorded in the header and the run id.
type Params struct {
	Epochs       int
	BatchSize    int
	KeepProb     float64
	LearningRate float64
	Seed         int64
}

// Key is a stable text form of p.
func (p Params) Key() string {
	return fmt.Sprintf("epochs=%d batch_size=%d keep_prob=%s lr=%s seed=%d",
		p.Epochs, p.BatchSize, FormatFloat(p.KeepProb), FormatFloat(p.LearningRate), p.Seed)
}

// RunID is a name-based UUID of the run parameters: identical runs share an id.
func (p Params) RunID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.Key()))
}

// Log appends one line per record to log_file_drop_<keep>.txt. Every write
// opens the file in append mode so completed lines survive a crash.
type Log struct {
	path string
	now  func() time.Time
}

// Open returns the log for a prepared output directory. The file is created on first write.
func Open(outputDir string, keep float64) *Log {
	name := fmt.Sprintf("log_file_drop_%.3f.txt", keep)
	return &Log{path: filepath.Join(outputDir, name), now: time.Now}
}

// Path is the log file location.
func (l *Log) Path() string { return l.path }

// Header writes the run configuration line.
func (l *Log) Header(p Params) error {
	return l.append(fmt.Sprintf("Epoch:%d, BATCH_SIZE:%d, DROPOUT:%s, lr:%s",
		p.Epochs, p.BatchSize, FormatFloat(p.KeepProb), FormatFloat(p.LearningRate)))
}

// Epoch records the summed loss of a finished epoch (1-based).
func (l *Log) Epoch(n int, totalLoss float64) error {
	return l.append(fmt.Sprintf("%s:Epoch:%d, Loss:%s", l.now().Format(timestampLayout), n, formatLoss(totalLoss)))
}

func (l *Log) append(line string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open run log")
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "write run log")
	}
	return errors.Wrap(f.Close(), "close run log")
}

// FormatFloat prints v in shortest form, keeping a decimal point on whole numbers (1 -> "1.0").
func FormatFloat(v float64) string {
	return withPoint(strconv.FormatFloat(v, 'g', -1, 64))
}

// formatLoss keeps three significant digits.
func formatLoss(v float64) string {
	return withPoint(strconv.FormatFloat(v, 'g', 3, 64))
}

func withPoint(s string) string {
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}
