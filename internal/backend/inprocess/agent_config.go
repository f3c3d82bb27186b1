package inprocess

// configOverrides holds the per-agent fields that shadow the session config.
type configOverrides struct {
	workingDir string
	targetDir  string
	workspace  *WorkspaceContext
	discovery  *FileDiscovery
	tools      *ToolRegistry
	// generator is nil when the agent inherits the session provider.
	generator *GeneratorConfig
}

// agentConfig is an agent's isolated RuntimeConfig. The embedded parent
// answers everything the overrides do not shadow.
type agentConfig struct {
	RuntimeConfig
	o configOverrides
}

var _ RuntimeConfig = (*agentConfig)(nil)

func newAgentConfig(parent RuntimeConfig, o configOverrides) *agentConfig {
	return &agentConfig{RuntimeConfig: parent, o: o}
}

func (c *agentConfig) Parent() RuntimeConfig                { return c.RuntimeConfig }
func (c *agentConfig) WorkingDir() string                   { return c.o.workingDir }
func (c *agentConfig) TargetDir() string                    { return c.o.targetDir }
func (c *agentConfig) WorkspaceContext() *WorkspaceContext { return c.o.workspace }
func (c *agentConfig) FileDiscovery() *FileDiscovery       { return c.o.discovery }
func (c *agentConfig) ToolRegistry() *ToolRegistry         { return c.o.tools }

func (c *agentConfig) Generator() GeneratorConfig {
	if c.o.generator != nil {
		return *c.o.generator
	}
	return c.RuntimeConfig.Generator()
}
