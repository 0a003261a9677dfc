package nodes

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/internal/fixtures"
	"github.com/atlassian/nodedispatch/pkg/stats"
)

func selectorFromConfig(t *testing.T, settings map[string]interface{}) (nodedispatch.NodeSelector, error) {
	v := viper.New()
	for key, value := range settings {
		v.Set(key, value)
	}
	return NewSelectorFromViper(v, fixtures.NewTestLogger(t), &fixtures.MockTransport{TB: t}, stats.NewNullStatser())
}

func TestNewSelectorFromViperDefaults(t *testing.T) {
	t.Parallel()

	s, err := selectorFromConfig(t, nil)
	require.NoError(t, err)
	ss, ok := s.(*SniffingSelector)
	require.True(t, ok)
	require.Equal(t, nodedispatch.NodeSet{{Host: "127.0.0.1", Port: 9200}}, ss.CurrentNodes())
	require.Equal(t, nodedispatch.DefaultMaxNodeAge, ss.maxNodeAge)
	require.Equal(t, nodedispatch.DefaultMaxNodeAge, ss.refreshInterval)
	require.NotNil(t, ss.limiter)
}

func TestNewSelectorFromViperTypes(t *testing.T) {
	t.Parallel()

	s, err := selectorFromConfig(t, map[string]interface{}{
		nodedispatch.ParamSelector: SelectorRoundRobin,
		nodedispatch.ParamNodes:    []string{"http://a:9200", "https://b:9243"},
	})
	require.NoError(t, err)
	require.IsType(t, &RoundRobinSelector{}, s)
	require.Equal(t, nodedispatch.NodeSet{nodeA, {Host: "b", Port: 9243, UseTLS: true}}, s.CurrentNodes())

	s, err = selectorFromConfig(t, map[string]interface{}{
		nodedispatch.ParamSelector: SelectorStatic,
		nodedispatch.ParamNodes:    []string{"a:9200"},
	})
	require.NoError(t, err)
	require.IsType(t, &StaticSelector{}, s)
	require.Equal(t, nodedispatch.NodeSet{nodeA}, s.CurrentNodes())
}

func TestNewSelectorFromViperSniffingSettings(t *testing.T) {
	t.Parallel()

	s, err := selectorFromConfig(t, map[string]interface{}{
		nodedispatch.ParamSelector:                 SelectorSniffing,
		nodedispatch.ParamNodes:                    []string{"a:9200", "b:9200"},
		nodedispatch.ParamMaxNodeAge:               "30s",
		nodedispatch.ParamRefreshInterval:          "10s",
		nodedispatch.ParamDiscoveryPath:            "/members",
		nodedispatch.ParamSniffOnStart:             true,
		nodedispatch.ParamRefreshRequestsPerMinute: 0,
		"sniffer.retry-policy":                     "disabled",
	})
	require.NoError(t, err)
	ss := s.(*SniffingSelector)
	require.Equal(t, 30*time.Second, ss.maxNodeAge)
	require.Equal(t, 10*time.Second, ss.refreshInterval)
	require.Equal(t, "/members", ss.discoveryPath)
	require.True(t, ss.sniffOnStart)
	require.Nil(t, ss.limiter)
}

func TestNewSelectorFromViperErrors(t *testing.T) {
	t.Parallel()

	for name, settings := range map[string]map[string]interface{}{
		"unknown selector":   {nodedispatch.ParamSelector: "random"},
		"no nodes":           {nodedispatch.ParamNodes: []string{}},
		"bad node":           {nodedispatch.ParamNodes: []string{"a"}},
		"static needs one":   {nodedispatch.ParamSelector: SelectorStatic, nodedispatch.ParamNodes: []string{"a:1", "b:1"}},
		"zero max node age":  {nodedispatch.ParamMaxNodeAge: "0s"},
		"negative interval":  {nodedispatch.ParamRefreshInterval: "-1s"},
		"zero affinities":    {nodedispatch.ParamMaxAffinities: 0},
		"negative refreshes": {nodedispatch.ParamRefreshRequestsPerMinute: -1},
		"bad retry policy":   {"sniffer.retry-policy": "sometimes"},
	} {
		_, err := selectorFromConfig(t, settings)
		require.Error(t, err, name)
	}
}
