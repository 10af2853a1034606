package schema

import (
	"efile/internal/document"
	"efile/internal/forms"
)

// Detection is what a serialized return says about itself.
type Detection struct {
	Version   string
	Namespace string
	FormType  forms.FormType
}

// DetectVersion reads the namespace and version attributes of the root and
// fingerprints the attached bodies to find the form type: the first template,
// in declaration order, whose body element appears under ReturnData. Primary
// returns are declared first, so a 1040 with schedules detects as the 1040.
// A missing version attribute falls back to the latest registered version of
// the detected type.
func (r *Registry) DetectVersion(data []byte) (Detection, error) {
	det := Detection{FormType: forms.Unknown}
	root, err := document.Parse(data)
	if err != nil {
		return det, err
	}
	det.Namespace, _ = root.Attr(document.AttrNamespace)
	det.Version, _ = root.Attr(document.AttrReturnVersion)

	if body := root.Child(document.ElemReturnData); body != nil {
		present := make(map[string]bool, len(body.Children))
		for _, c := range body.Children {
			present[c.Name] = true
		}
		for _, ft := range forms.Types() {
			if present[string(ft)] {
				det.FormType = ft
				break
			}
		}
	}

	if det.Version == "" && det.FormType != forms.Unknown {
		det.Version, _ = r.Latest(string(det.FormType))
	}
	return det, nil
}
