// Package s3tar streams tar archives to and from Amazon S3 without buffering
// the whole archive in memory.
//
// Download pulls an object with sequential ranged GetObject calls and writes
// the bytes to any io.Writer, typically a [tar.Unpacker] or a decompression
// layer in front of one. Upload streams an io.Reader, typically the far end of
// an io.Pipe being fed by a [tar.Writer], to S3 using multipart upload.
package s3tar
