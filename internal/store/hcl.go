package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/profile"
)

type hclFile struct {
	Profile   string        `hcl:"profile"`
	Managers  []hclManager  `hcl:"manager,block"`
	Consumers []hclConsumer `hcl:"consumer,block"`
}

type hclManager struct {
	ConfigID                 string    `hcl:"config_id,label"`
	SupportsNested           bool      `hcl:"supports_nested,optional"`
	SupportsDuplicateStrings bool      `hcl:"supports_duplicate_strings,optional"`
	StringsCaseSensitive     bool      `hcl:"strings_case_sensitive,optional"`
	SingleStringOnly         bool      `hcl:"single_string_only,optional"`
	Pools                    []hclPool `hcl:"filter_pool,block"`
}

type hclPool struct {
	Name                     string      `hcl:"name,label"`
	Type                     string      `hcl:"type,optional"`
	Deletable                bool        `hcl:"deletable,optional"`
	Default                  bool        `hcl:"default,optional"`
	NonRenamable             bool        `hcl:"non_renamable,optional"`
	SupportsNested           bool        `hcl:"supports_nested,optional"`
	SupportsDuplicateStrings bool        `hcl:"supports_duplicate_strings,optional"`
	StringsCaseSensitive     *bool       `hcl:"strings_case_sensitive,optional"`
	SingleStringOnly         *bool       `hcl:"single_string_only,optional"`
	Filters                  []hclFilter `hcl:"filter,block"`
}

type hclFilter struct {
	Name                     string      `hcl:"name,label"`
	Type                     string      `hcl:"type,optional"`
	SupportsNested           bool        `hcl:"supports_nested,optional"`
	SupportsDuplicateStrings bool        `hcl:"supports_duplicate_strings,optional"`
	StringsCaseSensitive     *bool       `hcl:"strings_case_sensitive,optional"`
	SingleStringOnly         *bool       `hcl:"single_string_only,optional"`
	Promptable               bool        `hcl:"promptable,optional"`
	NonDeletable             bool        `hcl:"non_deletable,optional"`
	NonRenamable             bool        `hcl:"non_renamable,optional"`
	NonChangeable            bool        `hcl:"non_changeable,optional"`
	StringsNonChangeable     bool        `hcl:"strings_non_changeable,optional"`
	Strings                  []hclString `hcl:"string,block"`
	Filters                  []hclFilter `hcl:"filter,block"`
}

type hclString struct {
	Value   string `hcl:"value"`
	Type    string `hcl:"type,optional"`
	Default bool   `hcl:"default,optional"`
}

type hclConsumer struct {
	Name       string   `hcl:"name,label"`
	ConfigID   string   `hcl:"config_id,optional"`
	References []string `hcl:"references,optional"`
}

// EncodeHCL renders rec as an HCL document.
func EncodeHCL(rec ProfileRecord) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	body.SetAttributeValue("profile", cty.StringVal(rec.Name))

	for _, mr := range rec.Managers {
		body.AppendNewline()
		mb := body.AppendNewBlock("manager", []string{mr.ConfigID}).Body()
		setBool(mb, "supports_nested", mr.SupportsNested)
		setBool(mb, "supports_duplicate_strings", mr.SupportsDuplicateStrings)
		setBool(mb, "strings_case_sensitive", mr.StringsCaseSensitive)
		setBool(mb, "single_string_only", mr.SingleStringOnly)

		for _, pr := range sortPoolRecords(mr.Pools) {
			mb.AppendNewline()
			pb := mb.AppendNewBlock("filter_pool", []string{pr.Name}).Body()
			setString(pb, "type", pr.Type)
			pb.SetAttributeValue("deletable", cty.BoolVal(pr.Deletable))
			setBool(pb, "default", pr.Default)
			setBool(pb, "non_renamable", pr.NonRenamable)
			setBool(pb, "supports_nested", pr.SupportsNested)
			setBool(pb, "supports_duplicate_strings", pr.SupportsDuplicateStrings)
			setTristate(pb, "strings_case_sensitive", pr.StringsCaseSensitive)
			setTristate(pb, "single_string_only", pr.SingleStringOnly)
			for _, fr := range pr.Filters {
				appendFilterBlock(pb, fr)
			}
		}
	}

	for _, cr := range rec.Consumers {
		body.AppendNewline()
		cb := body.AppendNewBlock("consumer", []string{cr.Name}).Body()
		setString(cb, "config_id", cr.ConfigID)
		if len(cr.References) > 0 {
			cb.SetAttributeValue("references", toCtyStringList(cr.References))
		}
	}
	return f.Bytes()
}

func appendFilterBlock(body *hclwrite.Body, fr FilterRecord) {
	fb := body.AppendNewBlock("filter", []string{fr.Name}).Body()
	setString(fb, "type", fr.Type)
	setBool(fb, "supports_nested", fr.SupportsNested)
	setBool(fb, "supports_duplicate_strings", fr.SupportsDuplicateStrings)
	setTristate(fb, "strings_case_sensitive", fr.StringsCaseSensitive)
	setTristate(fb, "single_string_only", fr.SingleStringOnly)
	setBool(fb, "promptable", fr.Promptable)
	setBool(fb, "non_deletable", fr.NonDeletable)
	setBool(fb, "non_renamable", fr.NonRenamable)
	setBool(fb, "non_changeable", fr.NonChangeable)
	setBool(fb, "strings_non_changeable", fr.StringsNonChangeable)

	for _, sr := range fr.Strings {
		sb := fb.AppendNewBlock("string", nil).Body()
		sb.SetAttributeValue("value", cty.StringVal(sr.Value))
		setString(sb, "type", sr.Type)
		setBool(sb, "default", sr.Default)
	}
	for _, nested := range fr.Filters {
		appendFilterBlock(fb, nested)
	}
}

func setBool(body *hclwrite.Body, name string, v bool) {
	if v {
		body.SetAttributeValue(name, cty.BoolVal(true))
	}
}

func setString(body *hclwrite.Body, name, v string) {
	if v != "" {
		body.SetAttributeValue(name, cty.StringVal(v))
	}
}

func setTristate(body *hclwrite.Body, name, v string) {
	switch v {
	case "true":
		body.SetAttributeValue(name, cty.True)
	case "false":
		body.SetAttributeValue(name, cty.False)
	}
}

func toCtyStringList(strs []string) cty.Value {
	vals := make([]cty.Value, len(strs))
	for i, s := range strs {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

// DecodeHCL parses a document written by EncodeHCL. filename is used in
// diagnostics and must end in .hcl.
func DecodeHCL(filename string, data []byte) (ProfileRecord, error) {
	var doc hclFile
	if err := hclsimple.Decode(filename, data, nil, &doc); err != nil {
		return ProfileRecord{}, err
	}

	rec := ProfileRecord{Name: doc.Profile}
	for _, hm := range doc.Managers {
		mr := ManagerRecord{
			ConfigID:                 hm.ConfigID,
			SupportsNested:           hm.SupportsNested,
			SupportsDuplicateStrings: hm.SupportsDuplicateStrings,
			StringsCaseSensitive:     hm.StringsCaseSensitive,
			SingleStringOnly:         hm.SingleStringOnly,
		}
		for i, hp := range hm.Pools {
			pr := PoolRecord{
				Name:                     hp.Name,
				Order:                    i,
				Type:                     hp.Type,
				Deletable:                hp.Deletable,
				Default:                  hp.Default,
				NonRenamable:             hp.NonRenamable,
				SupportsNested:           hp.SupportsNested,
				SupportsDuplicateStrings: hp.SupportsDuplicateStrings,
				StringsCaseSensitive:     fromBoolPtr(hp.StringsCaseSensitive),
				SingleStringOnly:         fromBoolPtr(hp.SingleStringOnly),
			}
			for j, hf := range hp.Filters {
				pr.Filters = append(pr.Filters, decodeFilter(hf, j))
			}
			mr.Pools = append(mr.Pools, pr)
		}
		rec.Managers = append(rec.Managers, mr)
	}
	for _, hc := range doc.Consumers {
		rec.Consumers = append(rec.Consumers, ConsumerRecord{
			Name:       hc.Name,
			ConfigID:   hc.ConfigID,
			References: hc.References,
		})
	}
	return rec, nil
}

func decodeFilter(hf hclFilter, order int) FilterRecord {
	fr := FilterRecord{
		Name:                     hf.Name,
		RelativeOrder:            order,
		Type:                     hf.Type,
		SupportsNested:           hf.SupportsNested,
		SupportsDuplicateStrings: hf.SupportsDuplicateStrings,
		StringsCaseSensitive:     fromBoolPtr(hf.StringsCaseSensitive),
		SingleStringOnly:         fromBoolPtr(hf.SingleStringOnly),
		Promptable:               hf.Promptable,
		NonDeletable:             hf.NonDeletable,
		NonRenamable:             hf.NonRenamable,
		NonChangeable:            hf.NonChangeable,
		StringsNonChangeable:     hf.StringsNonChangeable,
	}
	for _, hs := range hf.Strings {
		fr.Strings = append(fr.Strings, StringRecord{Value: hs.Value, Type: hs.Type, Default: hs.Default})
	}
	for i, nested := range hf.Filters {
		fr.Filters = append(fr.Filters, decodeFilter(nested, i))
	}
	return fr
}

func fromBoolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "true"
	}
	return "false"
}

// HCLWriter persists each profile as one HCL file in Dir.
type HCLWriter struct {
	Dir   string
	names NamePolicy
	log   *logging.Logger
}

// NewHCLWriter returns a writer and loader for dir.
func NewHCLWriter(dir string, names NamePolicy, log *logging.Logger) *HCLWriter {
	if log == nil {
		log = logging.Discard()
	}
	return &HCLWriter{Dir: dir, names: names, log: log.WithComponent("store")}
}

// Path returns the file of a profile.
func (w *HCLWriter) Path(profileName string) string {
	return filepath.Join(w.Dir, w.names.FileName(profileName))
}

// WriteProfile rewrites the profile's file. The new content is written to a
// temporary file and renamed over the old one.
func (w *HCLWriter) WriteProfile(p *profile.Profile) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	path := w.Path(p.Name())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, EncodeHCL(NewProfileRecord(p)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	w.log.Debug("wrote profile", "profile", p.Name(), "path", path)
	return nil
}

// DeletePool fails if the profile's file cannot be rewritten; the pool
// itself disappears from the file on the next WriteProfile.
func (w *HCLWriter) DeletePool(profileName, configID, pool string) error {
	path := w.Path(profileName)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete pool %s: %w", pool, err)
	}
	return f.Close()
}

// DeleteProfile removes the profile's file.
func (w *HCLWriter) DeleteProfile(profileName string) error {
	err := os.Remove(w.Path(profileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadProfiles implements profile.Loader, reading every file in Dir with
// the configured extension in name order.
func (w *HCLWriter) LoadProfiles(reg *profile.Registry) error {
	paths, err := filepath.Glob(filepath.Join(w.Dir, "*"+w.names.FileExt))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, path := range paths {
		rec, err := ReadHCLFile(path)
		if err != nil {
			return err
		}
		if _, err := rec.Apply(reg); err != nil {
			return err
		}
	}
	return nil
}

// ReadHCLFile decodes one profile file.
func ReadHCLFile(path string) (ProfileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProfileRecord{}, err
	}
	rec, err := DecodeHCL(path, data)
	if err != nil {
		return ProfileRecord{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}
