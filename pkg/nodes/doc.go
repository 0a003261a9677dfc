package nodes

/*
Node selection is handled with two distinct parts:
- a nodedispatch.NodeSelector, which holds the current node set and returns a single node for a request, optionally
  keeping an affinity token on the same node for a while.
- a topology source, which discovers the current members of the cluster and replaces the selector's node set
  through nodedispatch.NodeUpdater.

The SniffingSelector is both: it asks one of the nodes it already knows about for the cluster membership on a
timer.  The RedisNodeTracker is an alternative source, where nodes announce themselves through Redis PubSub.

Selection never performs I/O.  The node set is swapped as a whole, so a reader always sees one complete set.
*/
