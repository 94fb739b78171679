// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded event loops the pipeline runs on: a
// level-triggered epoll Poller, a Loop that owns one OS thread and a task inbox, and
// Signal, a coalescing cross-thread wakeup backed by eventfd.
package reactor
