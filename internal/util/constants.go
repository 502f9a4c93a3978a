package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimePDF         = "application/pdf"
	MimeZip         = "application/zip"
	MimeCSV         = "text/csv"
	MimeTeX         = "application/x-tex"
	MimeOctetStream = "application/octet-stream"
)

// 会话目录中的固定文件名
const (
	SourceFile       = "sujet.tex"
	SubjectPDF       = "sujet.pdf"
	CorrectionPDF    = "correction.pdf"
	AnswersPDF       = "reponses.pdf"
	RosterFile       = "list.csv"
	CompileLogFile   = "compile.log"
	UploadedCopies   = "uploaded_student_copies.pdf"
	NotesCSV         = "notes.csv"
	NotesODS         = "notes.ods"
	CalibrationFile  = "DOC-calage.xy"
	ScanPagePattern  = "page-*.png"
	AnalysisDataFile = "analysis.sqlite"
	AssociationFile  = "association.sqlite"
	CaptureFile      = "capture.sqlite"
)

// RosterHeader list.csv 的列顺序固定
var RosterHeader = []string{"id", "nom", "prenom", "email"}

// ExportableFiles 允许下载的编译产物：对外名称 -> 会话目录中的文件
var ExportableFiles = map[string]string{
	SubjectPDF: SubjectPDF,
	AnswersPDF: CorrectionPDF,
}

var AllowedIllustrationExtensions = []string{".png", ".jpg", ".jpeg", ".pdf"}
