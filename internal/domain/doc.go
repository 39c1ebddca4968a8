// Package domain contains the entities the gateway reads and records: NBA
// games and their matchup context, AI analyses, data conflict records and
// the per-request analysis log. It has no knowledge of storage or transport.
package domain
