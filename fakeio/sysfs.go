package fakeio

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Sysfs is a fake filesystem that behaves like the gpio and pwm sysfs classes:
// writing a pin id to export makes its control files appear, unexport
// removes them again.
type Sysfs struct {
	*FS
	GPIORoot string
	PWMChip  string
	// ExportLag is how many polls an exported path stays invisible for.
	ExportLag int
}

// NewSysfs wires export and unexport behaviour for a gpio root such as
// /sys/class/gpio and a pwm chip such as /sys/class/pwm/pwmchip0.
func NewSysfs(gpioRoot, pwmChip string) *Sysfs {
	s := &Sysfs{FS: New(), GPIORoot: gpioRoot, PWMChip: pwmChip}

	s.Create(path.Join(gpioRoot, "export"), "")
	s.Create(path.Join(gpioRoot, "unexport"), "")
	s.OnWrite(path.Join(gpioRoot, "export"), s.exportGPIO)
	s.OnWrite(path.Join(gpioRoot, "unexport"), s.unexportGPIO)

	s.Create(path.Join(pwmChip, "export"), "")
	s.Create(path.Join(pwmChip, "unexport"), "")
	s.OnWrite(path.Join(pwmChip, "export"), s.exportPWM)
	s.OnWrite(path.Join(pwmChip, "unexport"), s.unexportPWM)
	return s
}

// GPIOPath returns the path of a pin attribute, e.g. GPIOPath(21, "value").
func (s *Sysfs) GPIOPath(pin int, attr string) string {
	return path.Join(s.GPIORoot, fmt.Sprintf("gpio%d", pin), attr)
}

// PWMPath returns the path of a channel attribute, e.g. PWMPath(0, "enable").
func (s *Sysfs) PWMPath(channel int, attr string) string {
	return path.Join(s.PWMChip, fmt.Sprintf("pwm%d", channel), attr)
}

func parseIDs(data string) []int {
	var ids []int
	for _, field := range strings.Fields(data) {
		if id, err := strconv.Atoi(field); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Sysfs) exportGPIO(data string) {
	for _, id := range parseIDs(data) {
		s.CreateAfter(s.GPIOPath(id, "direction"), "in", s.ExportLag)
		s.CreateAfter(s.GPIOPath(id, "value"), "0", s.ExportLag)
	}
}

func (s *Sysfs) unexportGPIO(data string) {
	for _, id := range parseIDs(data) {
		s.Remove(s.GPIOPath(id, "direction"))
		s.Remove(s.GPIOPath(id, "value"))
	}
}

func (s *Sysfs) exportPWM(data string) {
	for _, id := range parseIDs(data) {
		s.CreateAfter(s.PWMPath(id, "enable"), "0", s.ExportLag)
		s.CreateAfter(s.PWMPath(id, "duty_cycle"), "0", s.ExportLag)
		s.CreateAfter(s.PWMPath(id, "period"), "0", s.ExportLag)
	}
}

func (s *Sysfs) unexportPWM(data string) {
	for _, id := range parseIDs(data) {
		s.Remove(s.PWMPath(id, "enable"))
		s.Remove(s.PWMPath(id, "duty_cycle"))
		s.Remove(s.PWMPath(id, "period"))
	}
}
