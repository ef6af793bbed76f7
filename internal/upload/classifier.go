package upload

import (
	"bytes"
	"fmt"
)

// headerProbeSize bounds how much of the file the classifier reads.
const headerProbeSize = 1024

// dangerousSignatures are native-executable headers. A match rejects
// the file in every profile; there is no way to disable this check.
var dangerousSignatures = []struct {
	prefix      []byte
	description string
}{
	{[]byte{0x4d, 0x5a}, "PE executable"},
	{[]byte{0x7f, 0x45, 0x4c, 0x46}, "ELF executable"},
	{[]byte{0xfe, 0xed, 0xfa}, "Mach-O executable"},
	{[]byte{0xce, 0xfa, 0xed, 0xfe}, "Mach-O executable"},
}

// Classification is the classifier's verdict on a content prefix.
type Classification struct {
	// DetectedMIME is empty when the sniffer could not detect a type.
	DetectedMIME string
	Dangerous    bool
	DangerousSig string
	// Mismatch is set when a type was detected and differs from the
	// declared one.
	Mismatch bool
}

// Classifier decides a file's true kind from its leading bytes.
type Classifier struct {
	sniffer MimeSniffer
}

func NewClassifier(sniffer MimeSniffer) *Classifier {
	return &Classifier{sniffer: sniffer}
}

// Classify inspects at most headerProbeSize bytes of header.
func (c *Classifier) Classify(header []byte, declaredMIME string) Classification {
	if len(header) > headerProbeSize {
		header = header[:headerProbeSize]
	}

	var result Classification
	for _, sig := range dangerousSignatures {
		if bytes.HasPrefix(header, sig.prefix) {
			result.Dangerous = true
			result.DangerousSig = sig.description
			break
		}
	}

	if detected, ok := c.sniffer.Sniff(header); ok {
		result.DetectedMIME = detected
		if declaredMIME != "" && detected != declaredMIME {
			result.Mismatch = true
		}
	}

	return result
}

// checkMIME applies the allow-list and mismatch rules against a
// classification, degrading to declared-type-only checking when no
// type was detected.
func (c *Classifier) checkMIME(policy *Policy, result Classification, declaredMIME string) []Violation {
	var violations []Violation

	if result.DetectedMIME == "" {
		if declaredMIME != "" && !policy.MIMEAllowed(declaredMIME) {
			violations = append(violations, Violation{
				Rule:   RuleMimeMismatch,
				Detail: fmt.Sprintf("file type %q is not allowed", declaredMIME),
			})
		}
		return violations
	}

	if !policy.MIMEAllowed(result.DetectedMIME) {
		violations = append(violations, Violation{
			Rule:   RuleMimeMismatch,
			Detail: fmt.Sprintf("file type %q is not allowed", result.DetectedMIME),
		})
	}
	if result.Mismatch {
		violations = append(violations, Violation{
			Rule: RuleMimeMismatch,
			Detail: fmt.Sprintf("MIME type mismatch: declared %q but detected %q",
				declaredMIME, result.DetectedMIME),
		})
	}
	return violations
}
