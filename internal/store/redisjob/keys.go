package redisjob

// Key layout for job status records. The cancel flag lives under its own
// key so the Status Reader never touches a field the worker writes.

const keyPrefix = "folio:job:"

func jobKey(jobID string) string {
	return keyPrefix + jobID
}

func cancelKey(jobID string) string {
	return keyPrefix + jobID + ":cancel"
}
