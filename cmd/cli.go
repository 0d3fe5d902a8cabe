package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"golang.org/x/text/message"

	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/ctlplane"
	"grimm.is/brcompat/internal/i18n"
	"grimm.is/brcompat/internal/result"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

const (
	maxBridges = 1024
	maxPorts   = 1024
)

// LinkIndexer resolves interface names given on the command line.
type LinkIndexer interface {
	Index(name string) (int, error)
}

// CLI runs the brctl-style subcommands against a running shim.
type CLI struct {
	Client  ctlplane.ControlPlaneClient
	Links   LinkIndexer
	Out     io.Writer
	Err     io.Writer
	Printer *message.Printer
}

// NewCLI returns a CLI writing to stdout and stderr.
func NewCLI(client ctlplane.ControlPlaneClient, links LinkIndexer) *CLI {
	return &CLI{Client: client, Links: links, Out: os.Stdout, Err: os.Stderr, Printer: Printer}
}

// AddBr creates a bridge.
func (c *CLI) AddBr(name string) error {
	if err := c.Client.AddBridge(name); err != nil {
		c.Printer.Fprintf(c.Err, i18n.MsgAddBridge, name, err)
		return err
	}
	return nil
}

// DelBr deletes a bridge.
func (c *CLI) DelBr(name string) error {
	if err := c.Client.DelBridge(name); err != nil {
		c.Printer.Fprintf(c.Err, i18n.MsgDelBridge, name, err)
		return err
	}
	return nil
}

// AddIf attaches ifname to bridge.
func (c *CLI) AddIf(bridge, ifname string) error {
	idx, err := c.index(ifname)
	if err != nil {
		return err
	}
	if err := c.Client.AddPort(bridge, idx); err != nil {
		c.Printer.Fprintf(c.Err, i18n.MsgAddIf, ifname, bridge, err)
		return err
	}
	return nil
}

// DelIf detaches ifname from bridge.
func (c *CLI) DelIf(bridge, ifname string) error {
	idx, err := c.index(ifname)
	if err != nil {
		return err
	}
	if err := c.Client.DelPort(bridge, idx); err != nil {
		c.Printer.Fprintf(c.Err, i18n.MsgDelIf, ifname, bridge, err)
		return err
	}
	return nil
}

func (c *CLI) index(ifname string) (int, error) {
	idx, err := c.Links.Index(ifname)
	if err != nil {
		c.Printer.Fprintf(c.Err, i18n.MsgNoInterface, ifname)
		return 0, err
	}
	return idx, nil
}

// Show lists bridges with their id and ports.
func (c *CLI) Show() error {
	indices, err := c.Client.Bridges(maxBridges)
	if err != nil {
		return err
	}
	names, err := c.Client.Names(indices)
	if err != nil && names == nil {
		return err
	}
	bridges := make([]string, 0, len(names))
	for _, n := range names {
		bridges = append(bridges, n)
	}
	slices.Sort(bridges)

	c.Printer.Fprintf(c.Out, i18n.MsgShowHeader)
	for _, br := range bridges {
		id := "-"
		stp := i18n.MsgNo
		if res, err := c.Client.BridgeInfo(br); err == nil && res.Info != nil {
			id = res.Info.String()
			if res.Info.STPEnabled {
				stp = i18n.MsgYes
			}
		}
		fmt.Fprintf(c.Out, "%s\t\t%s\t%s\t\t", br, id, c.Printer.Sprintf(stp))

		ports, err := c.portNames(br)
		if err != nil || len(ports) == 0 {
			fmt.Fprintln(c.Out)
			continue
		}
		fmt.Fprintln(c.Out, ports[0])
		for _, p := range ports[1:] {
			fmt.Fprintf(c.Out, "\t\t\t\t\t\t\t%s\n", p)
		}
	}
	return nil
}

func (c *CLI) portNames(bridge string) ([]string, error) {
	ports, err := c.Client.Ports(bridge, maxPorts)
	if err != nil || len(ports) == 0 {
		return nil, err
	}
	names, err := c.Client.Names(ports)
	if err != nil && names == nil {
		return nil, err
	}
	out := make([]string, 0, len(ports))
	for _, idx := range ports {
		if n, ok := names[idx]; ok {
			out = append(out, n)
		} else {
			out = append(out, fmt.Sprintf("if%d", idx))
		}
	}
	return out, nil
}

// ShowMacs prints the forwarding table of bridge, paging through it.
func (c *CLI) ShowMacs(bridge string) error {
	c.Printer.Fprintf(c.Out, i18n.MsgMacsHeader)
	var offset uint64
	for {
		res, err := c.Client.FDB(bridge, result.MaxFDBEntries, offset)
		if err != nil {
			return err
		}
		for _, e := range res.FDB {
			local := i18n.MsgNo
			if e.IsLocal {
				local = i18n.MsgYes
			}
			fmt.Fprintf(c.Out, "%3d\t%s\t%s\t\t%4d.%02d\n",
				e.PortNo, e.MAC, c.Printer.Sprintf(local), e.Ageing/100, e.Ageing%100)
		}
		if len(res.FDB) < result.MaxFDBEntries {
			return nil
		}
		offset += uint64(len(res.FDB))
	}
}

// Info prints the bridge id and spanning tree state of bridge.
func (c *CLI) Info(bridge string) error {
	res, err := c.Client.BridgeInfo(bridge)
	if err != nil {
		return err
	}
	if res.Info == nil {
		return fmt.Errorf("%s: no bridge info returned", bridge)
	}
	stp := i18n.MsgNo
	if res.Info.STPEnabled {
		stp = i18n.MsgYes
	}
	fmt.Fprintf(c.Out, "%s\n bridge id\t\t%s\n STP enabled\t\t%s\n", bridge, res.Info, c.Printer.Sprintf(stp))
	return nil
}

// Status prints the shim status and the diagnostics it holds.
func (c *CLI) Status() error {
	st, err := c.Client.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "%s %s\n", brand.Name, st.Version)
	c.Printer.Fprintf(c.Out, i18n.MsgStatusLine, st.Sequence, st.Timeout, st.Uptime.Round(time.Second))

	entries, err := c.Client.Diagnostics()
	if err != nil {
		return err
	}
	c.Printer.Fprintf(c.Out, i18n.MsgDiagnostics, len(entries))
	for _, e := range entries {
		fmt.Fprintf(c.Out, "  %s = %s\n", e.Path(), e.Data)
	}
	return nil
}

// Version prints the build version.
func Version(w io.Writer) {
	fmt.Fprintf(w, "%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)
}
