package config

type WorkerKeyStruct struct {
	RegradeSessionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	RegradeSessionsQueue: "regrade_sessions_queue",
}
