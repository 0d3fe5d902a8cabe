package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Render writes cfg as HCL.
func Render(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	if c := cfg.Control; c != nil {
		b := root.AppendNewBlock("control", nil).Body()
		b.SetAttributeValue("timeout", cty.StringVal(c.Timeout))
		b.SetAttributeValue("group_id", cty.NumberIntVal(int64(c.GroupID)))
		b.SetAttributeValue("family_id", cty.NumberIntVal(int64(c.FamilyID)))
		if c.InitialSequence != nil {
			b.SetAttributeValue("initial_sequence", cty.NumberIntVal(*c.InitialSequence))
		}
		root.AppendNewline()
	}

	if t := cfg.Transport; t != nil {
		b := root.AppendNewBlock("transport", nil).Body()
		b.SetAttributeValue("kind", cty.StringVal(t.Kind))
		b.SetAttributeValue("group", cty.StringVal(t.Group))
		setOptionalString(b, "interface", t.Interface)
		setOptionalString(b, "listen", t.Listen)
		b.SetAttributeValue("join", cty.BoolVal(t.Join))
		b.SetAttributeValue("ttl", cty.NumberIntVal(int64(t.TTL)))
		b.SetAttributeValue("queue_size", cty.NumberIntVal(int64(t.QueueSize)))
		if len(t.AllowedPeers) > 0 {
			peers := make([]cty.Value, len(t.AllowedPeers))
			for i, p := range t.AllowedPeers {
				peers[i] = cty.StringVal(p)
			}
			b.SetAttributeValue("allowed_peers", cty.ListVal(peers))
		}
		root.AppendNewline()
	}

	if c := cfg.Ctl; c != nil {
		b := root.AppendNewBlock("ctl", nil).Body()
		b.SetAttributeValue("socket", cty.StringVal(c.Socket))
		if len(c.AdminUIDs) > 0 {
			uids := make([]cty.Value, len(c.AdminUIDs))
			for i, uid := range c.AdminUIDs {
				uids[i] = cty.NumberIntVal(int64(uid))
			}
			b.SetAttributeValue("admin_uids", cty.ListVal(uids))
		}
		root.AppendNewline()
	}

	if m := cfg.Metrics; m != nil {
		b := root.AppendNewBlock("metrics", nil).Body()
		b.SetAttributeValue("listen", cty.StringVal(m.Listen))
		root.AppendNewline()
	}

	if l := cfg.Logging; l != nil {
		b := root.AppendNewBlock("logging", nil).Body()
		b.SetAttributeValue("level", cty.StringVal(l.Level))
		b.SetAttributeValue("json", cty.BoolVal(l.JSON))
		root.AppendNewline()
	}

	if d := cfg.Device; d != nil {
		b := root.AppendNewBlock("device", nil).Body()
		setOptionalString(b, "netns", d.Netns)
	}

	return hclwrite.Format(f.Bytes())
}

func setOptionalString(b *hclwrite.Body, name, v string) {
	if v != "" {
		b.SetAttributeValue(name, cty.StringVal(v))
	}
}
