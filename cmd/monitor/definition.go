package main

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/domain/baseline"
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/service/scheduling"
)

// Definition is the operator-authored monitoring setup: which engagements to
// watch, against which POV baselines, on which schedules, with which alert
// rules and channels.
type Definition struct {
	Engagements []EngagementDef `koanf:"engagements"`
}

type EngagementDef struct {
	EngagementID string       `koanf:"engagement_id"`
	Baseline     BaselineDef  `koanf:"baseline"`
	ModelPath    string       `koanf:"model_path"`
	Jobs         []JobDef     `koanf:"jobs"`
	Rules        []RuleDef    `koanf:"rules"`
	Channels     []ChannelDef `koanf:"channels"`
}

type BaselineDef struct {
	ID       string       `koanf:"id"`
	Elements []ElementDef `koanf:"elements"`
}

type ElementDef struct {
	ID              string    `koanf:"id"`
	Name            string    `koanf:"name"`
	ImportanceScore float64   `koanf:"importance_score"`
	Role            string    `koanf:"role"`
	DurationRange   []float64 `koanf:"duration_range"`
}

type JobDef struct {
	Name         string            `koanf:"name"`
	SourceType   string            `koanf:"source_type"`
	ScheduleCron string            `koanf:"schedule_cron"`
	Config       map[string]string `koanf:"config"`
}

type RuleDef struct {
	ID               string `koanf:"id"`
	Name             string `koanf:"name"`
	Description      string `koanf:"description"`
	EventType        string `koanf:"event_type"`
	ConditionField   string `koanf:"condition_field"`
	ConditionValue   string `koanf:"condition_value"`
	Threshold        int    `koanf:"threshold"`
	WindowMinutes    int    `koanf:"window_minutes"`
	SeverityOverride string `koanf:"severity_override"`
	Enabled          *bool  `koanf:"enabled"`
}

type ChannelDef struct {
	ID          string            `koanf:"id"`
	ChannelType string            `koanf:"channel_type"`
	MinSeverity string            `koanf:"min_severity"`
	Config      map[string]string `koanf:"config"`
	Enabled     *bool             `koanf:"enabled"`
}

// LoadDefinition reads and decodes a monitor definition file.
func LoadDefinition(path string) (*Definition, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading monitor definition %s: %w", path, err)
	}

	var def Definition
	if err := k.Unmarshal("", &def); err != nil {
		return nil, fmt.Errorf("decoding monitor definition %s: %w", path, err)
	}
	if len(def.Engagements) == 0 {
		return nil, fmt.Errorf("monitor definition %s declares no engagements", path)
	}
	return &def, nil
}

// buildBaseline converts a baseline definition into the domain baseline.
func (e *EngagementDef) buildBaseline() (*baseline.PovBaseline, error) {
	elements := make([]baseline.PovElement, 0, len(e.Baseline.Elements))
	for _, el := range e.Baseline.Elements {
		if el.Name == "" {
			return nil, fmt.Errorf("engagement %s: baseline element without a name", e.EngagementID)
		}

		elem := baseline.PovElement{
			ID:              el.ID,
			Name:            el.Name,
			ImportanceScore: el.ImportanceScore,
			Role:            el.Role,
		}
		switch len(el.DurationRange) {
		case 0:
		case 2:
			elem.DurationRange = &baseline.DurationRange{
				MinHours: el.DurationRange[0],
				MaxHours: el.DurationRange[1],
			}
		default:
			return nil, fmt.Errorf("engagement %s: element %s has a malformed duration_range", e.EngagementID, el.Name)
		}
		elements = append(elements, elem)
	}
	return baseline.NewPovBaseline(e.EngagementID, elements), nil
}

// buildJobs validates and creates the engagement's monitoring jobs.
func (e *EngagementDef) buildJobs() ([]*scheduling.Job, error) {
	jobs := make([]*scheduling.Job, 0, len(e.Jobs))
	for _, jd := range e.Jobs {
		job, err := scheduling.NewJob(e.EngagementID, jd.Name, scheduling.SourceType(jd.SourceType), jd.ScheduleCron, jd.Config)
		if err != nil {
			return nil, fmt.Errorf("engagement %s job %q: %w", e.EngagementID, jd.Name, err)
		}
		job.BaselineID = e.Baseline.ID
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// buildRules converts rule definitions; enabled defaults to true.
func (e *EngagementDef) buildRules() []*alert.Rule {
	rules := make([]*alert.Rule, 0, len(e.Rules))
	for _, rd := range e.Rules {
		enabled := true
		if rd.Enabled != nil {
			enabled = *rd.Enabled
		}
		rules = append(rules, &alert.Rule{
			ID:               rd.ID,
			Name:             rd.Name,
			Description:      rd.Description,
			EngagementID:     e.EngagementID,
			EventType:        rd.EventType,
			ConditionField:   rd.ConditionField,
			ConditionValue:   rd.ConditionValue,
			ThresholdCount:   rd.Threshold,
			WindowMinutes:    rd.WindowMinutes,
			SeverityOverride: deviation.Severity(rd.SeverityOverride),
			Enabled:          enabled,
		})
	}
	return rules
}

// buildChannels converts channel definitions; enabled defaults to true.
func (e *EngagementDef) buildChannels() []*alert.Channel {
	channels := make([]*alert.Channel, 0, len(e.Channels))
	for _, cd := range e.Channels {
		enabled := true
		if cd.Enabled != nil {
			enabled = *cd.Enabled
		}
		channels = append(channels, &alert.Channel{
			ID:           cd.ID,
			EngagementID: e.EngagementID,
			ChannelType:  cd.ChannelType,
			Config:       cd.Config,
			MinSeverity:  deviation.Severity(cd.MinSeverity),
			Enabled:      enabled,
		})
	}
	return channels
}
