package syncctx

// config collects the constructor arguments NewContext needs, set through
// functional options per this module's ambient configuration convention
// (spec's AMBIENT STACK: functional-options component construction).
type config struct {
	framesInFlight             uint32
	timelineSupported          bool
	synchronization2Enabled    bool
	defaultTimelineWaitStage   uint64
	defaultTimelineSignalStage uint64
	defaultExternalSignalStage uint64
}

func defaultConfig() config {
	const allCommands2 = 0x00010000_00000000 // VK_PIPELINE_STAGE_2_ALL_COMMANDS_BIT
	return config{
		framesInFlight:             2,
		defaultTimelineWaitStage:   allCommands2,
		defaultTimelineSignalStage: allCommands2,
		defaultExternalSignalStage: allCommands2,
	}
}

// Option configures a Context at construction time.
type Option func(*config)

// WithFramesInFlight sets how many frame slots the fence-ring fallback (or
// per-frame timeline bookkeeping) tracks. Default 2.
func WithFramesInFlight(n uint32) Option {
	return func(c *config) { c.framesInFlight = n }
}

// WithTimelineSupport declares whether the device's timeline semaphore
// feature should be used when available. Default false (fence-ring
// fallback); callers typically pass device.Features().TimelineSemaphore.
func WithTimelineSupport(supported bool) Option {
	return func(c *config) { c.timelineSupported = supported }
}

// WithSynchronization2 sets the SubmitBackend the context records and
// reports through Context.SubmitBackend. Submit does not consult it: the
// timeline path always issues Submit2 and the fence-ring path always issues
// the legacy Submit.
func WithSynchronization2(enabled bool) Option {
	return func(c *config) { c.synchronization2Enabled = enabled }
}

// WithDefaultStageMasks sets the stage masks applied when a SyncSubmitInfo
// does not specify its own. Each defaults to ALL_COMMANDS.
func WithDefaultStageMasks(timelineWait, timelineSignal, externalSignal uint64) Option {
	return func(c *config) {
		c.defaultTimelineWaitStage = timelineWait
		c.defaultTimelineSignalStage = timelineSignal
		c.defaultExternalSignalStage = externalSignal
	}
}
