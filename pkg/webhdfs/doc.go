// Package webhdfs is a client for the WebHDFS REST protocol.
//
// Simple operations (MKDIRS, DELETE, GETFILESTATUS, LISTSTATUS,
// GETHOMEDIRECTORY) are a single request to the coordinating node (the
// namenode). Transfers (CREATE, APPEND, OPEN) take two hops: the namenode
// answers with a redirect naming a datanode, and the bytes are streamed over a
// second connection to that datanode. Redirects are never followed
// automatically, nothing is retried, and every connection and local file
// handle is released before a call returns.
//
// Failures reported by either node, and protocol violations such as a missing
// redirect, surface as *RemoteError. Transport faults are returned as-is.
package webhdfs
