// Command adnslogres rewrites a log stream read from stdin, substituting
// the resolved PTR name for every line's leading IPv4 address, and writes
// the result to stdout (spec.md §6 "CLI collaborators"). Up to 1000 PTR
// lookups are kept outstanding concurrently; output preserves input order.
package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucab/adns/internal/rlog"

	adns "github.com/lucab/adns"
)

const maxOutstanding = 1000

var leadingIPv4 = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})`)

type job struct {
	line    string
	addr    string // the matched leading address, "" if none
	rest    string
	query   adns.Query
	hasQuery bool
}

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "adnslogres:", err)
		os.Exit(1)
	}
}

func run(in *os.File, out *os.File) error {
	r, initErr := adns.Init(adns.IfNoErrPrint, rlog.SinkFunc(func(line string) {
		fmt.Fprintln(os.Stderr, line)
	}))
	if initErr != nil {
		return initErr
	}
	defer r.Finish()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	w := bufio.NewWriter(out)
	defer w.Flush()

	var queue []*job

	flushReady := func() error {
		for len(queue) > 0 {
			j := queue[0]
			if !j.hasQuery {
				if _, err := fmt.Fprintln(w, j.line); err != nil {
					return err
				}
				queue = queue[1:]
				continue
			}
			ans, ok := r.Check(j.query)
			if !ok {
				break
			}
			name := j.addr
			if ans.Status == adns.OK && ans.NRRs > 0 {
				if names, ok := ans.RRs.([]string); ok && len(names) > 0 {
					name = names[0]
				}
			}
			if _, err := fmt.Fprintln(w, name+j.rest); err != nil {
				return err
			}
			queue = queue[1:]
		}
		return nil
	}

	for sc.Scan() {
		line := sc.Text()
		j := &job{line: line}
		if m := leadingIPv4.FindStringSubmatchIndex(line); m != nil {
			addr := line[m[0]:m[1]]
			if validIPv4(addr) {
				owner := reverseDNS(addr)
				q, err := r.Submit(owner, adns.PTR, 0, nil)
				if err == nil {
					j.addr = addr
					j.rest = line[m[1]:]
					j.query = q
					j.hasQuery = true
				}
			}
		}
		queue = append(queue, j)

		for len(queue) >= maxOutstanding {
			if err := r.PollOnce(); err != nil {
				return err
			}
			if err := flushReady(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	for len(queue) > 0 {
		if err := flushReady(); err != nil {
			return err
		}
		if len(queue) == 0 {
			break
		}
		if err := r.PollOnce(); err != nil {
			return err
		}
	}
	return nil
}

func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

func reverseDNS(addr string) string {
	parts := strings.Split(addr, ".")
	return parts[3] + "." + parts[2] + "." + parts[1] + "." + parts[0] + ".in-addr.arpa"
}
