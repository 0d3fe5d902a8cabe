package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/brcompat/cmd"
	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/ctlplane"
	"grimm.is/brcompat/internal/device"
	"grimm.is/brcompat/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", brand.GetConfigPath(), "Configuration file")
		serveFlags.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
		printConfig := serveFlags.Bool("print-config", false, "Print the effective configuration and exit")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile, *printConfig); err != nil {
			printer.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "addbr", "delbr", "addif", "delif", "show", "showmacs", "info", "status":
		os.Exit(runClient(os.Args[1], os.Args[2:]))

	case "version":
		cmd.Version(os.Stdout)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

var argCounts = map[string]int{
	"addbr": 1, "delbr": 1, "addif": 2, "delif": 2,
	"show": 0, "showmacs": 1, "info": 1, "status": 0,
}

func runClient(name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	socket := fs.String("socket", ctlplane.SocketPath, "Control socket")
	netns := fs.String("netns", "", "Network namespace for interface names")
	fs.Parse(args)

	if fs.NArg() != argCounts[name] {
		printUsage()
		return 1
	}

	client, err := ctlplane.NewClient(*socket)
	if err != nil {
		printer.Fprintf(os.Stderr, i18n.MsgNoShim, brand.Name, err)
		return 1
	}
	defer client.Close()

	var links cmd.LinkIndexer
	if name == "addif" || name == "delif" {
		nl, err := device.NewNetlinker(*netns)
		if err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer nl.Close()
		links = device.NewResolver(nl)
	}

	cli := cmd.NewCLI(client, links)
	a := fs.Args()
	switch name {
	case "addbr":
		err = cli.AddBr(a[0])
	case "delbr":
		err = cli.DelBr(a[0])
	case "addif":
		err = cli.AddIf(a[0], a[1])
	case "delif":
		err = cli.DelIf(a[0], a[1])
	case "show":
		err = cli.Show()
	case "showmacs":
		err = cli.ShowMacs(a[0])
	case "info":
		err = cli.Info(a[0])
	case "status":
		err = cli.Status()
	}
	if err != nil {
		// addbr and friends already printed a localized message.
		if name == "show" || name == "showmacs" || name == "info" || name == "status" {
			printer.Fprintf(os.Stderr, "%s: %v\n", name, err)
		}
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  serve [-config file] [-print-config]   Run the shim
  addbr <bridge>                         Create a bridge
  delbr <bridge>                         Delete a bridge
  addif <bridge> <interface>             Attach an interface
  delif <bridge> <interface>             Detach an interface
  show                                   List bridges
  showmacs <bridge>                      Show the forwarding table
  info <bridge>                          Show bridge id and STP state
  status                                 Show shim status and diagnostics
  version                                Print the version

Client commands accept -socket and -netns.
`, brand.BinaryName)
}
