// Package forumdb wires a forum's storage core: a backend-agnostic sorted-set
// store and per-process caches kept coherent across every process of a
// deployment by a pub/sub bus.
//
// Components:
//   - zset.Store: the sorted-set contract. sqlstore emulates it on SQLite.
//   - cache.LRU / cache.TTL: bounded in-process caches. Del and Reset are
//     broadcast so every process evicts the same keys.
//   - pubsub.Bus: Local (standalone), IPC (single host, relayed by a
//     supervising Hub) or Redis (multi host).
//
// Typical startup:
//
//	cfg, warns, err := config.Load("forumdb.yaml")
//	dep, err := forumdb.Init(ctx, cfg, forumdb.Options{Logger: l})
//	defer dep.Close()
//	posts := forumdb.NewLRU(dep, cache.LRUOptions[Post]{Name: "post", Max: 10000})
//	ids, err := dep.Store.RangeByRank(ctx, "cid:1:tids", 0, 19, zset.Desc)
//
// Every write path that changes cached data calls Del on the cache after the
// store write; the bus takes care of the other processes.
package forumdb
