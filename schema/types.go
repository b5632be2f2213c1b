package schema

import (
	"fmt"
	"time"
)

// Mode selects how an entity is run.
type Mode string

const (
	// ModeLocal runs the entity in-process without contacting the backend.
	ModeLocal Mode = "local"
	// ModeDev ships the local source tree onto an existing image.
	ModeDev Mode = "dev"
	// ModeProd registers against an image built for the current commit.
	ModeProd Mode = "prod"
)

// Modes lists every supported mode in presentation order.
var Modes = []Mode{ModeLocal, ModeDev, ModeProd}

// Remote reports whether the mode submits to the backend.
func (m Mode) Remote() bool {
	return m == ModeDev || m == ModeProd
}

// VersionIdentity is the provenance-derived version of the source tree.
type VersionIdentity struct {
	Repo     string
	Branch   string
	Revision string
}

// String renders the identity as "<repo>-<branch>-<revision>".
func (v VersionIdentity) String() string {
	return fmt.Sprintf("%s-%s-%s", v.Repo, v.Branch, v.Revision)
}

// ExecutionContext describes how an entity should be run.
type ExecutionContext struct {
	Mode    Mode   `json:"mode" yaml:"mode"`
	Image   string `json:"image" yaml:"image"`
	Tag     string `json:"tag" yaml:"tag"`
	Version string `json:"version" yaml:"version"`
	Project string `json:"project" yaml:"project"`
	Domain  string `json:"domain" yaml:"domain"`
	Wait    bool   `json:"wait" yaml:"wait"`
}

// ImageRef returns the full image reference or "" when no image applies.
func (c ExecutionContext) ImageRef() string {
	if c.Image == "" {
		return ""
	}
	if c.Tag == "" {
		return c.Image
	}
	return c.Image + ":" + c.Tag
}

// EntityType distinguishes workflows from single tasks.
type EntityType string

const (
	// EntityWorkflow is a composed workflow.
	EntityWorkflow EntityType = "workflow"
	// EntityTask is a single task.
	EntityTask EntityType = "task"
)

// EntityRef names a unit of work known to the backend.
type EntityRef struct {
	Module string     `json:"module" yaml:"module"`
	Name   string     `json:"name" yaml:"name"`
	Type   EntityType `json:"type" yaml:"type"`
}

// Key returns the registry key, e.g. "lrwine_training_workflow".
func (r EntityRef) Key() string {
	return r.Module + "_" + r.Name
}

// QualifiedName returns "<module>.<name>".
func (r EntityRef) QualifiedName() string {
	return r.Module + "." + r.Name
}

// Inputs are the named arguments passed to an entity.
type Inputs map[string]any

// Outputs are the named results produced by an entity.
type Outputs map[string]any

// FastPackageSettings points a registration at an uploaded source bundle.
type FastPackageSettings struct {
	DestinationDir       string `json:"destination_dir"`
	DistributionLocation string `json:"distribution_location"`
}

// RegistrationSettings carries the serialization settings for registration.
type RegistrationSettings struct {
	Image       string               `json:"image"`
	FastPackage *FastPackageSettings `json:"fast_package,omitempty"`
}

// SubmitRequest describes one execution submission.
type SubmitRequest struct {
	Entity     EntityRef
	Inputs     Inputs
	Version    string
	NamePrefix string
	Project    string
	Domain     string
	Wait       bool
}

// ExecutionHandle references one execution on the backend.
type ExecutionHandle struct {
	Project string `json:"project"`
	Domain  string `json:"domain"`
	Name    string `json:"name"`
}

func (h ExecutionHandle) String() string {
	return fmt.Sprintf("%s/%s/%s", h.Project, h.Domain, h.Name)
}

// StagingLocation is where a packaged source bundle is uploaded.
type StagingLocation struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	NativeURL string `json:"native_url"`
}

// ExecutionStatus is one synchronized snapshot of an execution.
type ExecutionStatus struct {
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompletedExecution is returned once an execution reaches a terminal phase.
type CompletedExecution struct {
	Handle  ExecutionHandle
	Status  ExecutionStatus
	Outputs Outputs
}

// Failed reports whether the completed execution carries an error.
func (c CompletedExecution) Failed() bool {
	return c.Status.Error != ""
}
