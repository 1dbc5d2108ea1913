package logging

// Convenience helpers mirroring the category set. Each pair writes at
// info and debug level for the named category.

func Boot(format string, args ...any)      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...any) { Get(CategoryBoot).Debug(format, args...) }

func Session(format string, args ...any)      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...any) { Get(CategorySession).Debug(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

func Embedding(format string, args ...any)      { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...any) { Get(CategoryEmbedding).Debug(format, args...) }

func Memory(format string, args ...any)      { Get(CategoryMemory).Info(format, args...) }
func MemoryDebug(format string, args ...any) { Get(CategoryMemory).Debug(format, args...) }

func BudgetDebug(format string, args ...any) { Get(CategoryBudget).Debug(format, args...) }

func Planner(format string, args ...any)      { Get(CategoryPlanner).Info(format, args...) }
func PlannerDebug(format string, args ...any) { Get(CategoryPlanner).Debug(format, args...) }

func Executor(format string, args ...any)      { Get(CategoryExecutor).Info(format, args...) }
func ExecutorDebug(format string, args ...any) { Get(CategoryExecutor).Debug(format, args...) }

func Approval(format string, args ...any)      { Get(CategoryApproval).Info(format, args...) }
func ApprovalDebug(format string, args ...any) { Get(CategoryApproval).Debug(format, args...) }

func Orchestrator(format string, args ...any)      { Get(CategoryOrchestrator).Info(format, args...) }
func OrchestratorDebug(format string, args ...any) { Get(CategoryOrchestrator).Debug(format, args...) }

func Tools(format string, args ...any)      { Get(CategoryTools).Info(format, args...) }
func ToolsDebug(format string, args ...any) { Get(CategoryTools).Debug(format, args...) }

func API(format string, args ...any)      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }

func EventsDebug(format string, args ...any) { Get(CategoryEvents).Debug(format, args...) }
