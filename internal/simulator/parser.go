package simulator

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

const (
	TIMESTAMP_LAYOUT = "2006-01-02 15:04:05.000"
	// log files written with colored output prefix every line with this sequence
	COLOR_PREFIX  = "\x1b[32m"
	REPORT_MARKER = "properties/report"
	MAX_LINE_SIZE = 1024 * 1024
)

var (
	meterLineRegexp   = regexp.MustCompile(`P1 ======>\s*(?:[A-Za-z0-9_]+:)?(-?\d+)`)
	meterChangeRegexp = regexp.MustCompile(`P1 power changed => (-?\d+)W`)
	operationRegexp   = regexp.MustCompile(`Update operation: (\S+)`)

	ErrEmptyLog = errors.New("log contains no meter samples")
)

// DeviceSeries holds the telemetry of one device sampled at every meter reading.
// All series have one entry per Log.Time element.
type DeviceSeries struct {
	Device *domain.Device
	// StartIndex is the first sample with a known charge level.
	StartIndex int
	Home       []int
	Solar      []int
	OffGrid    []int
	Levels     []int
}

type ModeChange struct {
	Mode  domain.OperatingMode
	Index int
}

// Log is a decoded bridge log: meter samples in chronological order plus the
// device state captured at each sample.
type Log struct {
	Time []time.Time
	// Meter is the recorded grid meter, positive when importing.
	Meter []int
	// DeviceHome is the summed home output of all devices.
	DeviceHome []int
	// Consumption is the home consumption: meter plus device output.
	Consumption []int
	Solar       []int
	OffGrid     []int
	Modes       []ModeChange

	devices map[string]*DeviceSeries
}

func newLog() *Log {
	return &Log{devices: map[string]*DeviceSeries{}}
}

// Devices returns the device series ordered by device id.
func (l *Log) Devices() []*DeviceSeries {
	series := make([]*DeviceSeries, 0, len(l.devices))
	for _, s := range l.devices {
		series = append(series, s)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Device.Id < series[j].Device.Id })
	return series
}

func (l *Log) Len() int {
	return len(l.Time)
}

// ParseLog decodes device reports, meter samples and operation changes from a
// log. Lines that cannot be decoded are logged and skipped.
func ParseLog(r io.Reader, logger *zap.Logger) (*Log, error) {
	l := newLog()
	var last time.Time

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MAX_LINE_SIZE)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimPrefix(scanner.Text(), COLOR_PREFIX)
		ts, tsErr := lineTime(line)
		if tsErr == nil {
			last = ts
		}

		switch {
		case strings.Contains(line, REPORT_MARKER):
			report, err := reportFromLine(line)
			if err != nil {
				logger.Warn("simulator: report line dropped", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			if report == nil || report.DeviceId == "" {
				continue
			}
			l.apply(report, last, logger)
		case meterLineRegexp.MatchString(line) || meterChangeRegexp.MatchString(line):
			if tsErr != nil {
				logger.Warn("simulator: meter line without timestamp dropped", zap.Int("line", lineNo), zap.Error(tsErr))
				continue
			}
			power, err := meterFromLine(line)
			if err != nil {
				logger.Warn("simulator: meter line dropped", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			l.addSample(ts, power)
		case operationRegexp.MatchString(line):
			m := operationRegexp.FindStringSubmatch(line)
			mode, err := domain.ParseOperatingMode(m[1])
			if err != nil {
				logger.Warn("simulator: operation line dropped", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			l.Modes = append(l.Modes, ModeChange{Mode: mode, Index: l.Len()})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	logger.Info("simulator: log parsed", zap.Int("lines", lineNo), zap.Int("samples", l.Len()),
		zap.Int("devices", len(l.devices)), zap.Int("mode_changes", len(l.Modes)))
	return l, nil
}

func lineTime(line string) (time.Time, error) {
	if len(line) < len(TIMESTAMP_LAYOUT) {
		return time.Time{}, errors.New("line too short for timestamp")
	}
	return time.ParseInLocation(TIMESTAMP_LAYOUT, line[:len(TIMESTAMP_LAYOUT)], time.Local)
}

// reportFromLine extracts the JSON object of a report line. Reports are often
// logged as Python dict literals, so quotes and booleans are normalised.
func reportFromLine(line string) (*domain.DeviceReport, error) {
	start := strings.Index(line, "{")
	end := strings.LastIndex(line, "}")
	if start < 0 || end < start {
		return nil, nil
	}
	data := strings.NewReplacer("'", `"`, " True", " true", " False", " false").Replace(line[start : end+1])
	return domain.ParseDeviceReport([]byte(data))
}

func meterFromLine(line string) (int, error) {
	m := meterLineRegexp.FindStringSubmatch(line)
	if m == nil {
		m = meterChangeRegexp.FindStringSubmatch(line)
	}
	if m == nil {
		return 0, errors.New("no meter value")
	}
	return strconv.Atoi(m[1])
}

func (l *Log) apply(report *domain.DeviceReport, now time.Time, logger *zap.Logger) {
	s, ok := l.devices[report.DeviceId]
	if !ok {
		s = &DeviceSeries{
			Device:     domain.NewDevice(report.DeviceId),
			StartIndex: -1,
			// pad so every series lines up with the samples seen so far
			Home:    make([]int, l.Len()),
			Solar:   make([]int, l.Len()),
			OffGrid: make([]int, l.Len()),
			Levels:  make([]int, l.Len()),
		}
		l.devices[report.DeviceId] = s
	}
	if err := s.Device.ApplyReport(*report, now); err != nil {
		logger.Debug("simulator: telemetry fields dropped", zap.String("device", report.DeviceId), zap.Error(err))
	}
}

func (l *Log) addSample(ts time.Time, meter int) {
	home, solar, offGrid := 0, 0, 0
	for _, s := range l.Devices() {
		d := s.Device
		if s.StartIndex == -1 && d.ElectricLevel.Int() > 0 {
			s.StartIndex = l.Len()
		}
		s.Home = append(s.Home, d.HomePower.Int())
		s.Solar = append(s.Solar, d.SolarPower.Int())
		s.OffGrid = append(s.OffGrid, d.OffGridPower.Int())
		s.Levels = append(s.Levels, d.ElectricLevel.Int())
		home += d.HomePower.Int()
		solar += d.SolarPower.Int()
		offGrid += d.OffGridPower.Int()
	}

	l.Time = append(l.Time, ts)
	l.Meter = append(l.Meter, meter)
	l.DeviceHome = append(l.DeviceHome, home)
	l.Consumption = append(l.Consumption, home+meter)
	l.Solar = append(l.Solar, solar)
	l.OffGrid = append(l.OffGrid, offGrid)
}
