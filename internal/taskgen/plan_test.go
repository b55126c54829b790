package taskgen

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const citiesJSON = `{
  "regions": {
    "south": {"states": {"TX": ["austin", "dallas"], "OK": ["tulsa"]}},
    "west": {"states": {"CA": ["sanfrancisco"]}}
  }
}`

const workersJSON = `{
  "default_settings": {"threshold": 40},
  "proxy_pool": {"proxies": ["http://p1:8080", "http://p2:8080"]},
  "vps_instances": {
    "vps-1": {"name": "Texas box", "states": ["TX", "CA"], "account": {"email": "a@example.com", "password": "secret"}, "proxy": "PROXY_2"},
    "vps-2": {"enabled": false, "states": ["OK"], "account": {"email": "ACCOUNT_2_EMAIL"}, "proxy": "PROXY_9", "threshold": 10},
    "vps-3": {"states": ["NV"], "proxy": "http://direct:1"}
  }
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func loadFixtures(t *testing.T) (Cities, Workers) {
	t.Helper()
	cities, err := LoadCities(writeFile(t, "cities.json", citiesJSON))
	require.NoError(t, err)
	workers, err := LoadWorkers(writeFile(t, "workers.json", workersJSON))
	require.NoError(t, err)
	return cities, workers
}

func TestBuildResolvesRowsAndProxy(t *testing.T) {
	t.Parallel()

	cities, workers := loadFixtures(t)
	plan, err := Build(cities, workers, "vps-1")
	require.NoError(t, err)

	assert.Equal(t, "Texas box", plan.Name)
	assert.True(t, plan.Enabled)
	assert.Equal(t, "http://p2:8080", plan.Proxy)
	assert.Equal(t, 40, plan.Threshold)
	assert.Empty(t, plan.Warnings)
	require.Len(t, plan.Rows, 3)

	var cityOrder []string
	for _, r := range plan.Rows {
		cityOrder = append(cityOrder, r.City)
		assert.Equal(t, "a@example.com", r.Email)
		assert.Equal(t, 40, r.Threshold)
		assert.True(t, r.ChangeLanguage)
	}
	assert.Equal(t, []string{"austin", "dallas", "sanfrancisco"}, cityOrder)
	assert.Equal(t, map[string]int{"TX": 2, "CA": 1}, plan.StateCounts)
}

func TestBuildWarnings(t *testing.T) {
	t.Parallel()

	cities, workers := loadFixtures(t)
	plan, err := Build(cities, workers, "vps-2")
	require.NoError(t, err)

	assert.False(t, plan.Enabled)
	assert.Empty(t, plan.Proxy)
	assert.Equal(t, 10, plan.Threshold)
	joined := strings.Join(plan.Warnings, "\n")
	assert.Contains(t, joined, "disabled")
	assert.Contains(t, joined, "PROXY_9 not found")
	assert.Contains(t, joined, "email not configured")
	assert.Contains(t, joined, "password not configured")
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	cities, workers := loadFixtures(t)
	_, err := Build(cities, workers, "vps-404")
	require.ErrorIs(t, err, ErrUnknownWorker)
	assert.Contains(t, err.Error(), "vps-1, vps-2, vps-3")

	_, err = Build(cities, workers, "vps-3")
	require.ErrorIs(t, err, ErrNoCities)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	_, err := LoadCities(writeFile(t, "cities.json", `{"regions": {"south": {"states": {"TX": [1]}}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")

	_, err = LoadWorkers(writeFile(t, "workers.json", `{"vps_instances": {}}`))
	require.Error(t, err)

	_, err = LoadWorkers(writeFile(t, "workers.json", `{not json`))
	require.Error(t, err)

	_, err = LoadCities(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestListWorkers(t *testing.T) {
	t.Parallel()

	_, workers := loadFixtures(t)
	list := ListWorkers(workers)
	require.Len(t, list, 3)
	assert.Equal(t, "vps-1", list[0].ID)
	assert.Equal(t, []string{"TX", "CA"}, list[0].States)
	assert.False(t, list[1].Enabled)
	assert.Equal(t, "Unnamed", list[2].Name)
	assert.Equal(t, "Not configured", list[2].Email)
}

func TestCSVRoundTripAndMasking(t *testing.T) {
	t.Parallel()

	cities, workers := loadFixtures(t)
	plan, err := Build(cities, workers, "vps-1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, plan.Rows))
	assert.True(t, strings.HasPrefix(buf.String(), "a@example.com,secret,austin,40,http://p2:8080,true\n"))

	rows, err := ReadCSV(&buf, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "dallas", rows[1].City)
	assert.Equal(t, []string{"a@example.com", "********", "austin", "40", "http://p2:8080", "true"}, rows[0].Masked())
}

func TestReadCSVSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"a@x,pw,austin,25,,true",
		"too,few",
		"a@x,pw,dallas,notanumber,,true",
		" a@x , pw , houston , 30 , , True ",
	}, "\n")
	rows, err := ReadCSV(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "austin", rows[0].City)
	assert.Equal(t, "houston", rows[1].City)
	assert.Equal(t, 30, rows[1].Threshold)
	assert.True(t, rows[1].ChangeLanguage)
}
