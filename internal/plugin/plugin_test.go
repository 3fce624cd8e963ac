package plugin

import (
	"testing"
)

type fakeMeta struct {
	manufacturer, author, name, version string
}

func (f fakeMeta) Manufacturer() string     { return f.manufacturer }
func (f fakeMeta) Author() string           { return f.author }
func (f fakeMeta) Name() string             { return f.name }
func (f fakeMeta) Version() string          { return f.version }
func (f fakeMeta) Description() string      { return "fake" }
func (f fakeMeta) PriceDescription() string { return "free" }

func TestID(t *testing.T) {
	p := fakeMeta{manufacturer: "edu.hm.hsieh", name: "myplugin", version: "1.0"}
	if got := ID(p); got != "edu.hm.hsieh_myplugin_1.0" {
		t.Fatalf("ID = %q", got)
	}
}

func TestDataTable(t *testing.T) {
	if got := DataTable("edu.hm.hsieh_myplugin_1.0"); got != "edu_hm_hsieh_myplugin_1_0" {
		t.Fatalf("DataTable = %q", got)
	}
	// Already dot-free ids pass through unchanged.
	if got := DataTable("acme_tool_2"); got != "acme_tool_2" {
		t.Fatalf("DataTable = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	d, err := Describe(fakeMeta{manufacturer: " edu.hm.hsieh ", author: "a", name: "p", version: "1.0"})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if d.ID != "edu.hm.hsieh_p_1.0" {
		t.Fatalf("descriptor id = %q", d.ID)
	}
	if d.Manufacturer != "edu.hm.hsieh" {
		t.Fatalf("manufacturer not trimmed: %q", d.Manufacturer)
	}
}

func TestDescribeRejectsMissingMetadata(t *testing.T) {
	cases := []fakeMeta{
		{name: "p", version: "1.0"},
		{manufacturer: "m", version: "1.0"},
		{manufacturer: "m", name: "p"},
		{manufacturer: "  ", name: "p", version: "1.0"},
	}
	for _, c := range cases {
		if _, err := Describe(c); err == nil {
			t.Fatalf("Describe(%+v) accepted invalid metadata", c)
		}
	}
}
