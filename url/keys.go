// Copyright (c) 2024 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package url

// Well-known parameter keys. Components read their configuration from URL
// parameters using these names.
const (
	KeyInterface = "interface"
	KeyGroup     = "group"
	KeyVersion   = "version"
	KeyCategory  = "category"

	KeyTimeout       = "timeout"
	KeyRetries       = "retries"
	KeyCluster       = "cluster"
	KeyLoadBalance   = "loadbalance"
	KeyWeight        = "weight"
	KeyWarmup        = "warmup"
	KeyTimestamp     = "timestamp"
	KeySticky        = "sticky"
	KeyForks         = "forks"
	KeyCheck         = "check"
	KeyDynamic       = "dynamic"
	KeyEnabled       = "enabled"
	KeyGeneric       = "generic"
	KeyToken         = "token"
	KeyActives       = "actives"
	KeyExecutes      = "executes"
	KeyTPSLimitRate  = "tps"
	KeyTPSInterval   = "tps.interval"
	KeyAsync         = "async"
	KeyOneway        = "oneway"
	KeyReturn        = "return"
	KeySide          = "side"
	KeyApplication   = "application"
	KeyScope         = "scope"
	KeySerialization = "serialization"
	KeyPayload       = "payload"
	KeyHeartbeat     = "heartbeat"
	KeyCodec         = "codec"
	KeyDispatcher    = "dispatcher"
	KeyThreadPool    = "threadpool"
	KeyThreads       = "threads"
	KeyQueues        = "queues"
	KeyCorethreads   = "corethreads"
	KeyAlive         = "alive"
	KeyConnectTimeout = "connect.timeout"

	KeyMethods = "methods"

	KeyRouter        = "router"
	KeyRule          = "rule"
	KeyRuntime       = "runtime"
	KeyForce         = "force"
	KeyPriority      = "priority"
	KeyTag           = "tag"
	KeyHashArguments = "hash.arguments"
	KeyHashNodes     = "hash.nodes"

	KeyRegistry        = "registry"
	KeyRefer           = "refer"
	KeyExport          = "export"
	KeyBackup          = "backup"
	KeySessionTimeout  = "session"
	KeyRetryPeriod     = "retry.period"
	KeyFile            = "file"
	KeySaveFileSync    = "save.file"
	KeyRegistryGroup   = "registry.group"
	KeyAccessLog       = "accesslog"
	KeyFilter          = "filter"
)

// Registry categories. A provider URL carries category=providers and so on;
// a subscriber lists the categories it wants, "*" meaning all.
const (
	CategoryProviders     = "providers"
	CategoryConsumers     = "consumers"
	CategoryRouters       = "routers"
	CategoryConfigurators = "configurators"
	CategoryAll           = "*"
)

// Sides of a call, carried in the "side" parameter.
const (
	SideProvider = "provider"
	SideConsumer = "consumer"
)

// Scopes of an export.
const (
	ScopeNone   = "none"
	ScopeLocal  = "local"
	ScopeRemote = "remote"
)

// ProtocolEmpty marks a notification URL that encodes "this category is now
// empty"; it is never a real endpoint.
const ProtocolEmpty = "empty"

// ProtocolRegistry addresses a registry rather than an endpoint; the
// registry protocol translates it into subscriptions and registrations.
const ProtocolRegistry = "registry"

// ProtocolDefault is the framework's native wire protocol name.
const ProtocolDefault = "courier"

// RegistryDefault is the default discovery backend kind.
const RegistryDefault = "zookeeper"

// DefaultCategories is the subscription default when none is given.
const DefaultCategories = CategoryProviders + "," + CategoryConfigurators + "," + CategoryRouters
