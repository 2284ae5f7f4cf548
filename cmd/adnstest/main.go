// Command adnstest is a small interactive driver for exercising a resolver
// from the command line: adnstest <type> <name> submits one synchronous
// query and prints its answer (spec.md §6 "CLI collaborators").
package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"

	adns "github.com/lucab/adns"
)

var typesByName = map[string]adns.QueryType{
	"a":      adns.A,
	"ns":     adns.NS,
	"nsraw":  adns.NSRaw,
	"cname":  adns.CNAME,
	"soa":    adns.SOA,
	"ptr":    adns.PTR,
	"hinfo":  adns.HINFO,
	"mx":     adns.MX,
	"txt":    adns.TXT,
	"rp":     adns.RP,
	"addr":   adns.Addr,
}

func main() {
	debug := flag.Bool("debug", false, "enable debug diagnostics on stderr")
	useVC := flag.Bool("vc", false, "force TCP from the start")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <type> <name>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Types: a ns nsraw cname soa ptr hinfo mx txt rp addr\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	qtype, ok := typesByName[strings.ToLower(flag.Arg(0))]
	if !ok {
		fmt.Fprintf(os.Stderr, "adnstest: unknown type %q\n", flag.Arg(0))
		os.Exit(1)
	}
	owner := flag.Arg(1)

	var initFlags adns.InitFlags
	if *debug {
		initFlags |= adns.IfDebug
	}
	r, err := adns.Init(initFlags, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adnstest:", err)
		os.Exit(1)
	}
	defer r.Finish()

	qflags := adns.FlagSearch | adns.FlagOwner
	if *useVC {
		qflags |= adns.FlagUseVC
	}
	ans, serr := r.Synchronous(owner, qtype, qflags)
	if serr != nil {
		fmt.Fprintln(os.Stderr, "adnstest:", serr)
		os.Exit(1)
	}

	fmt.Printf("%-20s %s\n", "owner:", ans.Owner)
	fmt.Printf("%-20s %s (%s)\n", "status:", adns.Strerror(ans.Status), adns.Erralias(ans.Status))
	if ans.CName != "" {
		fmt.Printf("%-20s %s\n", "cname:", ans.CName)
	}
	fmt.Printf("%-20s %d\n", "records:", ans.NRRs)
	if ans.RRs != nil {
		v := reflect.ValueOf(ans.RRs)
		for i := 0; i < v.Len(); i++ {
			rendered, _ := adns.RRInfoRender(qtype, v.Index(i).Interface())
			fmt.Printf("  %s\n", rendered)
		}
	}
	if ans.Status != adns.OK {
		os.Exit(1)
	}
}
