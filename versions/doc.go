// Package versions reports catalog changes to sessions without an event log.
//
// Every tick the Engine hashes the tool, prompt, resource and resource
// template lists, plus the contents of each resource, into a snapshot it
// owns. For each session it then compares the snapshot with the hashes the
// session last acknowledged (SystemListVersions and one ResourceVersion per
// subscribed URI), advances them with a compare-and-swap compute, and hands
// the resulting notifications to a Sink. Within one session list-changed
// notifications are delivered before resource-updated ones.
//
// List hashes are order-sensitive: the same items in a different order
// produce a different hash and therefore a list_changed notification.
//
// The snapshot is a cache, never a source of truth; several engine replicas
// may run against one store, partitioned with WithShard.
package versions
