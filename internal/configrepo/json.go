package configrepo

import (
	"bytes"
	"encoding/json"

	"github.com/andreyvit/tinyjson"

	"gridctl/internal/errcode"
)

// decodeModuleFile tolerantly pre-parses raw (catching trailing garbage and
// non-object roots cheaply, the way the teacher's config service screens
// embedded JSON before trusting it — services/config/config.go) and then
// strictly decodes into ModuleFile via encoding/json, the authoritative
// schema check.
func decodeModuleFile(raw []byte) (ModuleFile, error) {
	r := tinyjson.Raw(raw)
	val := r.Value()
	if err := r.EnsureEOF(); err != nil {
		return ModuleFile{}, errcode.Wrap(errcode.Config, "configrepo.decodeModuleFile", err)
	}
	if _, ok := val.(map[string]any); !ok {
		return ModuleFile{}, errcode.New(errcode.Config, "configrepo.decodeModuleFile", "module.json root is not an object")
	}

	var mf ModuleFile
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&mf); err != nil {
		return ModuleFile{}, errcode.Wrap(errcode.Config, "configrepo.decodeModuleFile", err)
	}
	return mf, nil
}

func encodeModuleFile(mf ModuleFile) ([]byte, error) {
	out, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return nil, errcode.Wrap(errcode.Config, "configrepo.encodeModuleFile", err)
	}
	return out, nil
}
