package runmessage

import "path"

func RunLogPath(runID, jobID, taskID string) string {
	return path.Join(runID, jobID, taskID, "run.log")
}

func TaskOutputPath(runID, jobID, taskID string) string {
	return path.Join(runID, jobID, taskID, "output.json")
}

func TaskInputPath(runID, jobID, taskID string) string {
	return path.Join(runID, jobID, taskID, "input.json")
}

// BlobURI formats the blob:// location workers use to address a blob.
func BlobURI(account, container, blobPath string) string {
	return "blob://" + account + "/" + container + "/" + blobPath
}
