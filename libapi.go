package eventflow

import (
	runtimepkg "github.com/drblury/eventflow/internal/runtime"
	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	idspkg "github.com/drblury/eventflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/internal/runtime/topics"
	transportpkg "github.com/drblury/eventflow/internal/runtime/transport"
	newtransport "github.com/drblury/eventflow/transport"
)

type (
	Config      = configpkg.Config
	TopicConfig = configpkg.TopicConfig

	Bus          = runtimepkg.Bus
	BusState     = runtimepkg.State
	Dependencies = runtimepkg.Dependencies
	Producer     = runtimepkg.Producer

	Delivery      = runtimepkg.Delivery
	Handler       = runtimepkg.Handler
	Middleware    = runtimepkg.Middleware
	Router        = runtimepkg.Router
	PublishOption = runtimepkg.PublishOption

	Envelope  = envelope.Envelope
	EventType = envelope.EventType
	TypeSet   = envelope.TypeSet

	Metadata = metadatapkg.Metadata

	TopicRegistry = topics.Registry
	TopicSpec     = newtransport.TopicSpec

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError  = errspkg.ConfigValidationError
	ConnectFailure         = errspkg.ConnectFailure
	ProvisionFailure       = errspkg.ProvisionFailure
	PublishFailure         = errspkg.PublishFailure
	DeserializationFailure = errspkg.DeserializationFailure
	HandlerFailure         = errspkg.HandlerFailure

	// Transport plumbing for custom brokers.
	TransportFactory      = transportpkg.Factory
	TransportFactoryFunc  = transportpkg.FactoryFunc
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

const (
	StateUninitialized = runtimepkg.StateUninitialized
	StateConnecting    = runtimepkg.StateConnecting
	StateProvisioning  = runtimepkg.StateProvisioning
	StateSubscribing   = runtimepkg.StateSubscribing
	StateRunning       = runtimepkg.StateRunning
	StateDraining      = runtimepkg.StateDraining
	StateStopped       = runtimepkg.StateStopped
)

// Header keys set on every published message.
const (
	MetadataKeyEventType      = metadatapkg.KeyEventType
	MetadataKeyCorrelationKey = metadatapkg.KeyCorrelationKey
	MetadataKeyPartitionKey   = metadatapkg.KeyPartitionKey
	MetadataKeyPublishedAt    = metadatapkg.KeyPublishedAt
)

var (
	NewBus          = runtimepkg.NewBus
	ProvisionTopics = runtimepkg.ProvisionTopics
	NewRouter       = runtimepkg.NewRouter
	Chain           = runtimepkg.Chain
	NewTypeSet      = envelope.NewTypeSet
	NewEnvelope     = envelope.New

	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig

	WithCorrelationKey = runtimepkg.WithCorrelationKey
	WithMetadata       = runtimepkg.WithMetadata

	TracerMiddleware        = runtimepkg.TracerMiddleware
	LogDeliveriesMiddleware = runtimepkg.LogDeliveriesMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Transport registry. Built-in transports register themselves when
	// imported, e.g. _ "github.com/drblury/eventflow/transport/kafka".
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	GetCapabilities          = newtransport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrTopicsRequired    = errspkg.ErrTopicsRequired
	ErrUnknownTopic      = errspkg.ErrUnknownTopic
	ErrEventTypeRequired = errspkg.ErrEventTypeRequired
	ErrUnknownEventType  = errspkg.ErrUnknownEventType
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrGroupIDRequired   = errspkg.ErrGroupIDRequired
	ErrGroupExists       = errspkg.ErrGroupExists
	ErrInvalidEnvelope   = errspkg.ErrInvalidEnvelope
	ErrBusNotConnected   = errspkg.ErrBusNotConnected
	ErrBusAlreadyStarted = errspkg.ErrBusAlreadyStarted
	ErrBusStopped        = errspkg.ErrBusStopped
	ErrIncompatibleTopic = errspkg.ErrIncompatibleTopic
	ErrUnknownTransport  = newtransport.ErrUnknownTransport

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONLogger        = loggingpkg.NewJSONLogger

	CreateULID = idspkg.CreateULID
)
