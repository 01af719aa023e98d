package cmd

import (
	"github.com/marcus/rem/internal/dateparse"
	"github.com/marcus/rem/internal/models"
	"github.com/spf13/pflag"
)

// priorityValue is a pflag.Value accepting LOW/MEDIUM/HIGH and their short
// forms.
type priorityValue struct {
	p   *models.Priority
	set bool
}

var _ pflag.Value = (*priorityValue)(nil)

func newPriorityValue(p *models.Priority) *priorityValue {
	return &priorityValue{p: p}
}

func (v *priorityValue) String() string { return string(*v.p) }
func (v *priorityValue) Type() string   { return "priority" }

func (v *priorityValue) Set(s string) error {
	p, err := models.ParsePriority(s)
	if err != nil {
		return err
	}
	*v.p = p
	v.set = true
	return nil
}

// dateValue is a pflag.Value accepting the dateparse shorthands; it stores
// the normalized YYYY-MM-DD form.
type dateValue struct {
	s *string
}

var _ pflag.Value = dateValue{}

func (v dateValue) String() string { return *v.s }
func (v dateValue) Type() string   { return "date" }

func (v dateValue) Set(s string) error {
	d, err := dateparse.ParseDate(s)
	if err != nil {
		return err
	}
	*v.s = d
	return nil
}

// timeValue is a pflag.Value storing a normalized HH:MM time of day.
type timeValue struct {
	s *string
}

var _ pflag.Value = timeValue{}

func (v timeValue) String() string { return *v.s }
func (v timeValue) Type() string   { return "time" }

func (v timeValue) Set(s string) error {
	t, err := dateparse.ParseTime(s)
	if err != nil {
		return err
	}
	*v.s = t
	return nil
}
