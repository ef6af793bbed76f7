package upload

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"
)

const (
	// entropyThreshold is bits per byte; above it the content is
	// likely packed, encrypted, or obfuscated.
	entropyThreshold = 7.5

	// minScanSize rejects sub-10-byte payloads outright.
	minScanSize = 10
)

// suspiciousPatterns is matched case-insensitively against the whole
// content. Any hit rejects the file with the matched token as reason.
var suspiciousPatterns = [][]byte{
	// Code execution
	[]byte("eval("),
	[]byte("exec("),
	[]byte("system("),
	[]byte("shell_exec("),
	[]byte("passthru("),
	[]byte("popen("),
	[]byte("proc_open("),
	[]byte("file_get_contents("),
	[]byte("file_put_contents("),
	[]byte("include_once("),
	[]byte("require_once("),

	// Command execution
	[]byte("cmd.exe"),
	[]byte("powershell"),
	[]byte("/bin/sh"),
	[]byte("/bin/bash"),
	[]byte("#!/bin/sh"),
	[]byte("#!/bin/bash"),
	[]byte("wget "),
	[]byte("curl "),
	[]byte("netcat"),
	[]byte("nc -e"),

	// Web-script injection
	[]byte("<script"),
	[]byte("<iframe"),
	[]byte("<object"),
	[]byte("<embed"),
	[]byte("<applet"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("onload="),
	[]byte("onerror="),
	[]byte("onclick="),
	[]byte("onmouseover="),
	[]byte("document.cookie"),
	[]byte("document.write"),
	[]byte("window.location"),
	[]byte("xmlhttprequest"),
	[]byte("fetch("),
	[]byte("$.ajax"),
	[]byte("$.post"),
	[]byte("$.get"),

	// SQL manipulation
	[]byte("union select"),
	[]byte("drop table"),
	[]byte("delete from"),
	[]byte("insert into"),
	[]byte("alter table"),
	[]byte("sp_executesql"),

	// Filesystem traversal
	[]byte("../"),
	[]byte("..\\"),
	[]byte("/etc/passwd"),
	[]byte("/etc/shadow"),
	[]byte("c:\\windows\\system32"),
	[]byte("/proc/self"),

	// Encoding / obfuscation
	[]byte("base64_decode"),
	[]byte("base64_encode"),
	[]byte("str_rot13"),
	[]byte("gzinflate"),
	[]byte("gzuncompress"),
	[]byte("gzdecode"),
	[]byte("gzencode"),
	[]byte("gzcompress"),
	[]byte("gzdeflate"),
	[]byte("gzopen"),
	[]byte("gzread"),
	[]byte("gzwrite"),
	[]byte("fromcharcode"),
	[]byte("unescape("),
	[]byte("document.createelement"),
}

// Scanner runs the aggressive content heuristics: suspicious-token
// search plus Shannon entropy. It is only invoked by the strict
// validation profile.
type Scanner struct {
	logger *zap.Logger
}

func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan reads the whole content and reports whether it looks safe.
// Internal read errors fail OPEN: availability wins over paranoia for
// heuristic scanning, unlike the signature and size checks which
// always fail closed.
func (s *Scanner) Scan(r io.Reader) (bool, string) {
	content, err := io.ReadAll(r)
	if err != nil {
		s.logger.Warn("content scan failed, allowing upload", zap.Error(err))
		return true, ""
	}
	return s.ScanBytes(content)
}

// ScanBytes is Scan for content already in memory.
func (s *Scanner) ScanBytes(content []byte) (bool, string) {
	if len(content) < minScanSize {
		return false, "file too small (potential payload)"
	}

	lowered := bytes.ToLower(content)
	for _, pattern := range suspiciousPatterns {
		if bytes.Contains(lowered, pattern) {
			return false, fmt.Sprintf("suspicious content detected: %s", pattern)
		}
	}

	if entropy := ShannonEntropy(content); entropy > entropyThreshold {
		return false, fmt.Sprintf("high entropy content detected (%.2f bits/byte, potential obfuscation)", entropy)
	}

	return true, ""
}

// ShannonEntropy returns the per-byte entropy of data in bits, between
// 0 (one repeated value) and 8 (uniformly random).
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	entropy := 0.0
	total := float64(len(data))
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
