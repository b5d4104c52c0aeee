package config

type WorkerKeyStruct struct {
	GradingQueue       string
	PersistEventsQueue string
	GradingDeadLetter  string
}

var WorkerKey = &WorkerKeyStruct{
	GradingQueue:       "grading_queue",
	PersistEventsQueue: "persist_events_queue",
	GradingDeadLetter:  "grading_dead_letter",
}
