package upload

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Profile selects which validation stages run. Relaxed exists for
// already-trusted internal callers and skips the MIME allow-list and
// content-scan stages; the executable-signature and size checks run in
// both profiles and cannot be skipped.
type Profile int

const (
	ProfileStrict Profile = iota
	ProfileRelaxed
)

func (p Profile) String() string {
	if p == ProfileRelaxed {
		return "relaxed"
	}
	return "strict"
}

// Outcome aggregates every triggered rule; the pipeline never stops at
// the first failure so callers can report the full list.
type Outcome struct {
	Accepted   bool
	Violations []Violation
}

func (o Outcome) Reasons() []string {
	out := make([]string, 0, len(o.Violations))
	for _, v := range o.Violations {
		out = append(out, v.Detail)
	}
	return out
}

// forbiddenNameParts are path-traversal and control characters that
// must not appear in a client-supplied filename.
var forbiddenNameParts = []string{"..", "/", "\\", "<", ">", ":", "\"", "|", "?", "*"}

// Validator orchestrates the classifier, scanner, and size rules into
// a single staged pipeline.
type Validator struct {
	policy     *Policy
	classifier *Classifier
	scanner    *Scanner
	fs         afero.Fs
	logger     *zap.Logger
}

func NewValidator(policy *Policy, classifier *Classifier, scanner *Scanner, fs afero.Fs, logger *zap.Logger) *Validator {
	return &Validator{
		policy:     policy,
		classifier: classifier,
		scanner:    scanner,
		fs:         fs,
		logger:     logger,
	}
}

// CheckFilename runs the filename stage alone: extension allow/block
// lists plus traversal and control characters. The store uses it
// pre-write so a blocked upload never touches the disk.
func (v *Validator) CheckFilename(originalName string) []Violation {
	var violations []Violation

	if originalName == "" {
		return append(violations, Violation{Rule: RuleFilename, Detail: "file must have a filename"})
	}

	for _, part := range forbiddenNameParts {
		if strings.Contains(originalName, part) {
			violations = append(violations, Violation{
				Rule:   RuleFilename,
				Detail: "filename contains invalid characters",
			})
			break
		}
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	switch {
	case v.policy.ExtensionBlocked(ext):
		violations = append(violations, Violation{
			Rule:   RuleExtension,
			Detail: fmt.Sprintf("file type %q is blocked", ext),
		})
	case !v.policy.ExtensionAllowed(ext):
		violations = append(violations, Violation{
			Rule:   RuleExtension,
			Detail: fmt.Sprintf("file type %q is not allowed", ext),
		})
	}

	return violations
}

// CheckHeader runs the executable-signature stage against a content
// prefix. It applies to every profile.
func (v *Validator) CheckHeader(header []byte) []Violation {
	result := v.classifier.Classify(header, "")
	if result.Dangerous {
		return []Violation{{
			Rule:   RuleDangerousSig,
			Detail: fmt.Sprintf("executable file detected: %s", result.DangerousSig),
		}}
	}
	return nil
}

// Validate runs the full post-write pipeline against a stored file.
// originalName is the client-supplied filename; path is where the
// content now lives.
func (v *Validator) Validate(path, originalName, declaredMIME string, profile Profile) Outcome {
	var violations []Violation

	// Stage A: filename rules.
	violations = append(violations, v.CheckFilename(originalName)...)

	header, readErr := v.readHeader(path)
	if readErr != nil {
		// Signature checking fails closed: a file we cannot read is a
		// file we cannot admit.
		violations = append(violations, Violation{
			Rule:   RuleDangerousSig,
			Detail: fmt.Sprintf("error reading file: %v", readErr),
		})
		return Outcome{Accepted: false, Violations: violations}
	}

	// Stage B: executable signatures, every profile.
	classification := v.classifier.Classify(header, declaredMIME)
	if classification.Dangerous {
		violations = append(violations, Violation{
			Rule:   RuleDangerousSig,
			Detail: fmt.Sprintf("executable file detected: %s", classification.DangerousSig),
		})
	}

	if profile == ProfileStrict {
		// Stage C: MIME allow-list and declared/detected mismatch.
		violations = append(violations, v.classifier.checkMIME(v.policy, classification, declaredMIME)...)

		// Stage D: content heuristics, fail-open on internal errors.
		violations = append(violations, v.scanContent(path)...)
	}

	// Stage E: size by category, every profile.
	violations = append(violations, v.checkSize(path, classification, declaredMIME)...)

	return Outcome{Accepted: len(violations) == 0, Violations: violations}
}

func (v *Validator) readHeader(path string) ([]byte, error) {
	f, err := v.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, headerProbeSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return header[:n], nil
}

func (v *Validator) scanContent(path string) []Violation {
	f, err := v.fs.Open(path)
	if err != nil {
		// Scanner errors fail open by policy.
		v.logger.Warn("content scan skipped", zap.String("path", path), zap.Error(err))
		return nil
	}
	defer f.Close()

	if safe, reason := v.scanner.Scan(f); !safe {
		rule := RulePattern
		if strings.Contains(reason, "entropy") {
			rule = RuleEntropy
		}
		return []Violation{{Rule: rule, Detail: reason}}
	}
	return nil
}

func (v *Validator) checkSize(path string, classification Classification, declaredMIME string) []Violation {
	info, err := v.fs.Stat(path)
	if err != nil {
		// Size checking fails closed.
		return []Violation{{
			Rule:   RuleSizeCategory,
			Detail: fmt.Sprintf("error checking file size: %v", err),
		}}
	}

	mime := classification.DetectedMIME
	if mime == "" {
		mime = declaredMIME
	}

	limit := v.policy.MaxSizeFor(mime)
	if info.Size() > limit {
		return []Violation{{
			Rule: RuleSizeCategory,
			Detail: fmt.Sprintf("file size (%s) exceeds maximum allowed size (%s) for this file type",
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(limit))),
		}}
	}
	return nil
}
