// Package taskgen turns the region and worker assignment files into the
// per-worker task list consumed by standalone runs.
package taskgen

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownWorker is returned when a worker id is absent from the assignment file.
var ErrUnknownWorker = errors.New("unknown worker id")

// ErrNoCities is returned when a worker's states match no configured city.
var ErrNoCities = errors.New("no cities assigned")

const (
	proxyRefPrefix   = "PROXY_"
	placeholderCreds = "ACCOUNT_"
)

// Cities maps region name to its states and their city codes.
type Cities struct {
	Regions map[string]Region `json:"regions"`
}

// Region groups states.
type Region struct {
	States map[string][]string `json:"states"`
}

// Workers is the worker assignment file.
type Workers struct {
	DefaultSettings DefaultSettings       `json:"default_settings"`
	ProxyPool       ProxyPool             `json:"proxy_pool"`
	Instances       map[string]WorkerSpec `json:"vps_instances"`
}

// DefaultSettings applies to workers that do not override them.
type DefaultSettings struct {
	Threshold int `json:"threshold"`
}

// ProxyPool lists shared proxies addressed as PROXY_<n>, 1-based.
type ProxyPool struct {
	Proxies []string `json:"proxies"`
}

// Account holds marketplace credentials carried into each row.
type Account struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// WorkerSpec is one worker's assignment.
type WorkerSpec struct {
	Name      string   `json:"name"`
	Enabled   *bool    `json:"enabled"`
	States    []string `json:"states"`
	Account   Account  `json:"account"`
	Proxy     string   `json:"proxy"`
	Threshold int      `json:"threshold"`
}

// IsEnabled treats a missing flag as enabled.
func (w WorkerSpec) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Row is one task: scrape City up to Threshold listings.
type Row struct {
	Email          string
	Password       string
	City           string
	State          string
	Region         string
	Threshold      int
	Proxy          string
	ChangeLanguage bool
}

// Masked returns the CSV fields with the password hidden.
func (r Row) Masked() []string {
	fields := r.fields()
	if fields[1] != "" {
		fields[1] = "********"
	}
	return fields
}

func (r Row) fields() []string {
	return []string{
		r.Email,
		r.Password,
		r.City,
		strconv.Itoa(r.Threshold),
		r.Proxy,
		strconv.FormatBool(r.ChangeLanguage),
	}
}

// Plan is the resolved task list for one worker.
type Plan struct {
	WorkerID  string
	Name      string
	Enabled   bool
	Email     string
	Proxy     string
	Threshold int
	Rows      []Row
	// StateCounts counts rows per state.
	StateCounts map[string]int
	Warnings    []string
}

// LoadCities reads and validates the cities file.
func LoadCities(path string) (Cities, error) {
	var c Cities
	if err := readValidated(path, citiesSchema, &c); err != nil {
		return Cities{}, err
	}
	return c, nil
}

// LoadWorkers reads and validates the worker assignment file.
func LoadWorkers(path string) (Workers, error) {
	var w Workers
	if err := readValidated(path, workersSchema, &w); err != nil {
		return Workers{}, err
	}
	return w, nil
}

// Build resolves the task rows for workerID. Regions and states are walked
// in name order; cities keep their file order.
func Build(cities Cities, workers Workers, workerID string) (Plan, error) {
	worker, ok := workers.Instances[workerID]
	if !ok {
		return Plan{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownWorker, workerID,
			strings.Join(sortedKeys(workers.Instances), ", "))
	}

	plan := Plan{
		WorkerID:    workerID,
		Name:        worker.Name,
		Enabled:     worker.IsEnabled(),
		Email:       worker.Account.Email,
		Threshold:   worker.Threshold,
		StateCounts: map[string]int{},
	}
	if plan.Name == "" {
		plan.Name = workerID
	}
	if plan.Threshold <= 0 {
		plan.Threshold = workers.DefaultSettings.Threshold
	}
	if !plan.Enabled {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("worker %q is disabled", workerID))
	}
	if worker.Account.Email == "" || strings.HasPrefix(worker.Account.Email, placeholderCreds) {
		plan.Warnings = append(plan.Warnings, "account email not configured")
	}
	if worker.Account.Password == "" || strings.HasPrefix(worker.Account.Password, placeholderCreds) {
		plan.Warnings = append(plan.Warnings, "account password not configured")
	}

	proxy, warning := resolveProxy(worker.Proxy, workers.ProxyPool.Proxies)
	plan.Proxy = proxy
	if warning != "" {
		plan.Warnings = append(plan.Warnings, warning)
	}

	assigned := make(map[string]bool, len(worker.States))
	for _, s := range worker.States {
		assigned[s] = true
	}
	for _, regionName := range sortedKeys(cities.Regions) {
		region := cities.Regions[regionName]
		for _, state := range sortedKeys(region.States) {
			if !assigned[state] {
				continue
			}
			for _, city := range region.States[state] {
				plan.Rows = append(plan.Rows, Row{
					Email:          worker.Account.Email,
					Password:       worker.Account.Password,
					City:           city,
					State:          state,
					Region:         regionName,
					Threshold:      plan.Threshold,
					Proxy:          proxy,
					ChangeLanguage: true,
				})
				plan.StateCounts[state]++
			}
		}
	}
	if len(plan.Rows) == 0 {
		return plan, fmt.Errorf("worker %q: %w", workerID, ErrNoCities)
	}
	return plan, nil
}

func resolveProxy(value string, pool []string) (string, string) {
	if !strings.HasPrefix(value, proxyRefPrefix) {
		return value, ""
	}
	n, err := strconv.Atoi(strings.TrimPrefix(value, proxyRefPrefix))
	if err != nil || n < 1 || n > len(pool) {
		return "", fmt.Sprintf("proxy %s not found in pool, using none", value)
	}
	return pool[n-1], ""
}

// WorkerSummary describes one worker for listings.
type WorkerSummary struct {
	ID      string
	Name    string
	Enabled bool
	States  []string
	Email   string
}

// ListWorkers summarises every worker sorted by id. Credentials other than
// the account email are omitted.
func ListWorkers(workers Workers) []WorkerSummary {
	out := make([]WorkerSummary, 0, len(workers.Instances))
	for _, id := range sortedKeys(workers.Instances) {
		spec := workers.Instances[id]
		name := spec.Name
		if name == "" {
			name = "Unnamed"
		}
		email := spec.Account.Email
		if email == "" {
			email = "Not configured"
		}
		out = append(out, WorkerSummary{
			ID:      id,
			Name:    name,
			Enabled: spec.IsEnabled(),
			States:  append([]string(nil), spec.States...),
			Email:   email,
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
