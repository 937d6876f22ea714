package sync

// OpType labels one applied unit of change in logs
type OpType string

const (
	OpCreateFolder  OpType = "CreateFolder"
	OpUploadSimple  OpType = "UploadSimple"
	OpUploadChunked OpType = "UploadChunked"
	OpRenameRemote  OpType = "RenameRemote"
	OpDeleteRemote  OpType = "DeleteRemote"
	OpWriteLocal    OpType = "WriteLocal"
	OpMkdirLocal    OpType = "MkdirLocal"
	OpDeleteLocal   OpType = "DeleteLocal"
	OpSkipped       OpType = "Skipped"
	OpError         OpType = "Error"
)

// strategy label of the upload metrics
func (o OpType) strategy() string {
	switch o {
	case OpUploadSimple:
		return "simple"
	case OpUploadChunked:
		return "chunked"
	default:
		return "other"
	}
}
