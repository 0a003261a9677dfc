// Package topology parses cluster membership responses into node sets.
//
// Two response shapes are understood.  A member list:
//
//	{"members": [{"host": "10.0.0.1", "port": 9200, "scheme": "https"}]}
//
// and the node info shape returned by /_nodes/http on Elasticsearch and OpenSearch:
//
//	{"nodes": {"<id>": {"http": {"publish_address": "10.0.0.1:9200"}}}}
//
// Unknown fields are ignored.  A member with a missing or invalid host or port
// rejects the whole response, as does an empty member list.
package topology
