package collector

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Parser turns raw source output into metric readings. Lines that do not
// parse are skipped.
type Parser func(r io.Reader) (map[string]float64, error)

// ParserByName returns the parser for a config name. The empty name selects
// ParseKeyValues.
func ParserByName(name string) (Parser, error) {
	switch strings.ToLower(name) {
	case "", "kv", "keyvalue":
		return ParseKeyValues, nil
	case "nginx":
		return ParseNginxStatus, nil
	case "diskstats":
		return ParseDiskstats, nil
	case "memcached":
		return ParseMemcachedStats, nil
	}
	return nil, fmt.Errorf("unknown parser %q", name)
}

// ParseKeyValues reads one metric per line in any of the forms
//
//	name value
//	name: value
//	name=value
//
// as printed by PHP-FPM and Apache `?auto` status pages, Passenger and most
// ad hoc scripts. Names are lower-cased and inner blanks become "_".
func ParseKeyValues(r io.Reader) (map[string]float64, error) {
	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		if v, err := parseFloat(value); err == nil {
			metrics[normalizeName(name)] = v
		}
	}
	if err := scanner.Err(); err != nil {
		return metrics, fmt.Errorf("scanner error: %w", err)
	}
	return metrics, nil
}

func splitKeyValue(line string) (name, value string, ok bool) {
	if i := strings.IndexAny(line, ":="); i > 0 {
		return line[:i], line[i+1:], true
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1], true
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

var (
	nginxActive   = regexp.MustCompile(`Active connections:\s+(\d+)`)
	nginxCounters = regexp.MustCompile(`(?m)^\s*(\d+)\s+(\d+)\s+(\d+)\s*$`)
	nginxStates   = regexp.MustCompile(`Reading:\s+(\d+)\s+Writing:\s+(\d+)\s+Waiting:\s+(\d+)`)
)

// ParseNginxStatus parses the nginx stub_status page:
//
//	Active connections: 291
//	server accepts handled requests
//	 16630948 16630948 31070465
//	Reading: 6 Writing: 179 Waiting: 106
func ParseNginxStatus(r io.Reader) (map[string]float64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	text := string(b)
	metrics := make(map[string]float64)

	if m := nginxActive.FindStringSubmatch(text); m != nil {
		metrics["active"], _ = parseFloat(m[1])
	}
	if m := nginxCounters.FindStringSubmatch(text); m != nil {
		metrics["accepts"], _ = parseFloat(m[1])
		metrics["handled"], _ = parseFloat(m[2])
		metrics["requests"], _ = parseFloat(m[3])
	}
	if m := nginxStates.FindStringSubmatch(text); m != nil {
		metrics["reading"], _ = parseFloat(m[1])
		metrics["writing"], _ = parseFloat(m[2])
		metrics["waiting"], _ = parseFloat(m[3])
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("not an nginx stub_status page")
	}
	return metrics, nil
}

var diskstatFields = []string{
	"reads_completed",
	"reads_merged",
	"sectors_read",
	"ms_reading",
	"writes_completed",
	"writes_merged",
	"sectors_written",
	"ms_writing",
	"io_in_progress",
	"ms_io",
	"weighted_ms_io",
}

// ParseDiskstats parses /proc/diskstats into <device>.<field> readings.
// Lines with fewer fields than the classic 14 columns are skipped.
func ParseDiskstats(r io.Reader) (map[string]float64, error) {
	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3+len(diskstatFields) {
			continue
		}
		device := fields[2]
		for i, name := range diskstatFields {
			if v, err := parseFloat(fields[3+i]); err == nil {
				metrics[device+"."+name] = v
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return metrics, fmt.Errorf("scanner error: %w", err)
	}
	return metrics, nil
}

// ParseMemcachedStats parses the reply to the memcached `stats` command up to
// the terminating END line.
//
//	STAT curr_connections 10
//	STAT get_hits 1200
//	END
func ParseMemcachedStats(r io.Reader) (map[string]float64, error) {
	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "END":
			return metrics, nil
		case line == "ERROR" || strings.HasPrefix(line, "SERVER_ERROR") || strings.HasPrefix(line, "CLIENT_ERROR"):
			return nil, fmt.Errorf("memcached replied %q", line)
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "STAT" {
			continue
		}
		if v, err := parseFloat(fields[2]); err == nil {
			metrics[fields[1]] = v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	return nil, io.ErrUnexpectedEOF
}
