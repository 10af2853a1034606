// Package consistency sums the amounts reported across the forms of one return
// and checks that figures carried from one schedule to another agree.
package consistency

import (
	"slices"
	"strconv"

	"efile/internal/document"
	"efile/internal/forms"
)

// ScheduleID names one attached form within a return. The first instance of a
// form type uses the type name; later instances are suffixed "#2", "#3", ...
type ScheduleID string

// Schedule is one attached form body and the forms that consume it.
type Schedule struct {
	ID       ScheduleID
	FormType forms.FormType
	Instance int
	Body     *document.Node
	Parents  []forms.FormType
}

// ScheduleSet maps schedule ids to their bodies.
type ScheduleSet map[ScheduleID]Schedule

// Add attaches body under the next free id for its form type.
func (s ScheduleSet) Add(ft forms.FormType, body *document.Node, parents ...forms.FormType) ScheduleID {
	instance := len(s.OfType(ft)) + 1
	sid := ScheduleID(ft)
	if instance > 1 {
		sid = ScheduleID(string(ft) + "#" + strconv.Itoa(instance))
	}
	s[sid] = Schedule{ID: sid, FormType: ft, Instance: instance, Body: body, Parents: parents}
	return sid
}

// OfType returns every instance of ft in instance order.
func (s ScheduleSet) OfType(fts ...forms.FormType) []Schedule {
	var out []Schedule
	for _, sch := range s {
		if slices.Contains(fts, sch.FormType) {
			out = append(out, sch)
		}
	}
	slices.SortFunc(out, func(a, b Schedule) int {
		if a.FormType != b.FormType {
			return slices.Index(fts, a.FormType) - slices.Index(fts, b.FormType)
		}
		return a.Instance - b.Instance
	})
	return out
}

// Has reports whether any of the form types is attached.
func (s ScheduleSet) Has(fts ...forms.FormType) bool {
	for _, sch := range s {
		if slices.Contains(fts, sch.FormType) {
			return true
		}
	}
	return false
}

// IDs returns every schedule id ordered by form declaration then instance.
func (s ScheduleSet) IDs() []ScheduleID {
	return ids(s.OfType(forms.Types()...))
}

// ScheduleSetFromDocument splits a parsed return into its attached forms. The
// first body is the primary return; every other body lists it as a parent.
func ScheduleSetFromDocument(doc *document.Document) ScheduleSet {
	set := make(ScheduleSet)
	bodies := doc.Bodies()
	if len(bodies) == 0 {
		return set
	}
	primary := forms.FormType(bodies[0].Name)
	for i, body := range bodies {
		if i == 0 {
			set.Add(primary, body)
			continue
		}
		set.Add(forms.FormType(body.Name), body, primary)
	}
	return set
}

func ids(schedules []Schedule) []ScheduleID {
	out := make([]ScheduleID, len(schedules))
	for i, sch := range schedules {
		out[i] = sch.ID
	}
	return out
}
